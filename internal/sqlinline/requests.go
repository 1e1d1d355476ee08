package sqlinline

// requestColumns is the projection every request query scans with repo.scanRequest.
const requestColumns = `id::text, owner, category_id, advice_id, image_refs, image_count,
    extracted_text, analysis_result, fingerprint, cache_hit,
    coalesce(source_request_id::text, ''), rating, state, failure_reason,
    extraction_failures, usage_day, reserved_units, created_at, updated_at`

const QInsertRequest = `--sql 98f7e7b6-934e-4759-8606-3fa18566bdbf
insert into analysis_requests (
    id, owner, category_id, advice_id, image_refs, image_count,
    extracted_text, analysis_result, fingerprint, cache_hit, source_request_id,
    state, usage_day, reserved_units, created_at, updated_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, $5::text[], $6::int,
    $7::text, $8::text, $9::text, $10::boolean, nullif($11::text, '')::uuid,
    $12::text, $13::date, $14::int, $15::timestamptz, $15::timestamptz
);
`

const QAdvanceRequest = `--sql 52f647e5-f7f7-4cb4-b18e-59674ec6f6fc
update analysis_requests
set state = $3::text,
    updated_at = now()
where id = $1::uuid
  and state = any($2::text[]);
`

const QCompleteRequest = `--sql 32b5be6f-55e9-4ced-b2d9-80f964282c94
update analysis_requests
set state = 'completed',
    extracted_text = $2::text,
    analysis_result = $3::text,
    extraction_failures = $4::int,
    updated_at = now()
where id = $1::uuid
  and state in ('pending', 'extracting', 'analyzing');
`

// QFailRequest marks one in-flight request failed and gives its reserved units
// back to the usage day they were taken from. Returns the number of requests failed.
const QFailRequest = `--sql 2a4a2d7d-b866-4ac0-bb81-0d3b6f2c09e5
with target as (
    select id, owner, usage_day, reserved_units
    from analysis_requests
    where id = $1::uuid
      and state in ('pending', 'extracting', 'analyzing')
    for update
),
failed as (
    update analysis_requests r
    set state = 'failed',
        failure_reason = $2::text,
        reserved_units = 0,
        updated_at = now()
    from target
    where r.id = target.id
    returning target.owner, target.usage_day, target.reserved_units
),
released as (
    update daily_usage d
    set count = greatest(d.count - failed.reserved_units, 0),
        updated_at = now()
    from failed
    where d.owner = failed.owner
      and d.usage_day = failed.usage_day
      and failed.reserved_units > 0
    returning d.owner
)
select count(*)::int from failed;
`

const QFailStaleRequests = `--sql 4626ecaf-237d-4919-bfa7-cf4e18c2f444
with target as (
    select id, owner, usage_day, reserved_units
    from analysis_requests
    where state in ('pending', 'extracting', 'analyzing')
      and updated_at < $1::timestamptz
    for update skip locked
),
failed as (
    update analysis_requests r
    set state = 'failed',
        failure_reason = $2::text,
        reserved_units = 0,
        updated_at = now()
    from target
    where r.id = target.id
    returning r.id, target.owner, target.usage_day, target.reserved_units
),
released as (
    update daily_usage d
    set count = greatest(d.count - agg.units, 0),
        updated_at = now()
    from (
        select owner, usage_day, sum(reserved_units)::int as units
        from failed
        group by owner, usage_day
    ) agg
    where d.owner = agg.owner
      and d.usage_day = agg.usage_day
      and agg.units > 0
    returning d.owner
)
select id::text from failed order by id;
`

const QSelectRequest = `--sql 992fb876-bc9d-4ac5-b8b2-d47d4e30986d
select ` + requestColumns + `
from analysis_requests
where id = $1::uuid
  and owner = $2::text;
`

// QListRequests pages an owner's history newest first. A null $2 starts from the top.
const QListRequests = `--sql dc2bfe1b-7b65-4d25-a832-c7e769c1af77
select ` + requestColumns + `
from analysis_requests
where owner = $1::text
  and ($2::timestamptz is null or (created_at, id) < ($2::timestamptz, $3::uuid))
order by created_at desc, id desc
limit $4::int;
`

const QFindCompletedRequest = `--sql ee001107-e205-4b0a-9419-1ef2ba5bdf55
select ` + requestColumns + `
from analysis_requests
where owner = $1::text
  and fingerprint = $2::text
  and state in ('completed', 'rated')
  and not cache_hit
  and created_at >= $3::timestamptz
order by created_at desc, id desc
limit 1;
`

const QRateRequest = `--sql 86dac4b6-0d57-4a9b-8e60-383851f3bb1d
update analysis_requests
set rating = $3::smallint,
    state = 'rated',
    updated_at = now()
where id = $1::uuid
  and owner = $2::text
  and state = 'completed'
  and rating is null
returning ` + requestColumns + `;
`
