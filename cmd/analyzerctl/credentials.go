package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"analyzer/internal/infra/credentials"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider API keys stored in the database",
		Long: `Keys stored here are used when GEMINI_API_KEY or OPENAI_API_KEY
is not set in the environment.`,
	}
	cmd.AddCommand(newCredentialsSetCmd(), newCredentialsShowCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var provider, key string
	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Store an API key",
		Example: `  analyzerctl credentials set --provider openai --key sk-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := credentials.Normalize(provider)
			if err != nil {
				return err
			}
			if key == "" {
				key = credentials.EnvKey(p)
			}
			if key == "" {
				return fmt.Errorf("%s api key is required via --key or environment", p)
			}
			store, closeRT, err := openCredentials(cmd)
			if err != nil {
				return err
			}
			defer closeRT()
			if err := store.Set(cmd.Context(), p, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s api key stored: %s\n", p, credentials.Mask(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", credentials.ProviderGemini, "gemini or openai")
	cmd.Flags().StringVar(&key, "key", "", "API key, defaults to the provider's environment variable")
	return cmd
}

func newCredentialsShowCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored API key, masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := credentials.Normalize(provider)
			if err != nil {
				return err
			}
			store, closeRT, err := openCredentials(cmd)
			if err != nil {
				return err
			}
			defer closeRT()
			key, err := store.Token(cmd.Context(), p)
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s api key stored\n", p)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s api key: %s\n", p, credentials.Mask(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", credentials.ProviderGemini, "gemini or openai")
	return cmd
}

func openCredentials(cmd *cobra.Command) (*credentials.Store, func(), error) {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if rt.SQL == nil {
		rt.Close()
		return nil, nil, fmt.Errorf("credentials need STORE_BACKEND=postgres, got %q", rt.Config.StoreBackend)
	}
	return credentials.NewStore(rt.SQL), rt.Close, nil
}
