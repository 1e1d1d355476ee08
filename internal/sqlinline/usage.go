package sqlinline

// QReserveUsage adds $3 units to the owner's counter for day $2 unless that
// would exceed $4. No row is returned when the reservation is refused.
const QReserveUsage = `--sql 7968a454-2c1a-4787-aed8-3d1355485931
insert into daily_usage as d (owner, usage_day, count, updated_at)
select $1::text, $2::date, $3::int, now()
where $3::int <= $4::int
on conflict (owner, usage_day) do update
set count = d.count + excluded.count,
    updated_at = now()
where d.count + excluded.count <= $4::int
returning d.count;
`

const QSelectUsage = `--sql f25ff16e-707a-4cd6-9dcf-15c626fc0f50
select count
from daily_usage
where owner = $1::text
  and usage_day = $2::date;
`
