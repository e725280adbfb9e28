package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"captionit/internal/api"
	"captionit/internal/app"
	"captionit/internal/tui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "captionit",
		Short: "AI caption studio for your images",
		Long: "captionit uploads an image, asks the caption service for an AI-written\n" +
			"caption in the style you pick, and keeps your past generations browsable.\n\n" +
			"Run without arguments for the full-screen interface.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			defer application.Close()
			return tui.Run(application)
		},
	}

	root.AddCommand(
		newLoginCmd(),
		newSignupCmd(),
		newLogoutCmd(),
		newStylesCmd(),
		newCaptionCmd(),
		newHistoryCmd(),
		newCompletionCmd(),
	)
	return root
}

func newApplication() (*app.Application, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.NewApplication(cfg)
}

// startResolved builds the application and waits for the stored credential
// to be checked, which every non-interactive subcommand needs first.
func startResolved(ctx context.Context) (*app.Application, error) {
	application, err := newApplication()
	if err != nil {
		return nil, err
	}
	application.Session.Start(ctx)
	if err := application.Session.WaitResolved(ctx); err != nil {
		application.Close()
		return nil, err
	}
	return application, nil
}

func credentialFlags(cmd *cobra.Command, email, password *string) {
	cmd.Flags().StringVarP(email, "email", "e", os.Getenv("CAPTIONIT_EMAIL"), "account email (env: CAPTIONIT_EMAIL)")
	cmd.Flags().StringVarP(password, "password", "p", os.Getenv("CAPTIONIT_PASSWORD"), "account password (env: CAPTIONIT_PASSWORD)")
}

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("both --email and --password are required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Session.Login(ctx, email, password); err != nil {
				return err
			}
			snap := application.Session.Snapshot()
			fmt.Printf("Signed in as %s\n", snap.Email)
			return nil
		},
	}
	credentialFlags(cmd, &email, &password)
	return cmd
}

func newSignupCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("both --email and --password are required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Session.Signup(ctx, email, password); err != nil {
				return err
			}
			snap := application.Session.Snapshot()
			fmt.Printf("Welcome, %s\n", snap.DisplayName)
			return nil
		},
	}
	credentialFlags(cmd, &email, &password)
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Session.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func newStylesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List the available caption styles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			styles, err := application.Gateway.ListStyles(ctx)
			if err != nil || len(styles) == 0 {
				styles = api.DefaultStyles()
			}
			for _, s := range styles {
				fmt.Printf("%-12s %-14s %s\n", s.ID, s.Name, s.Description)
			}
			return nil
		},
	}
}

func newCaptionCmd() *cobra.Command {
	var style, description string
	var copyResult bool
	cmd := &cobra.Command{
		Use:   "caption <image>",
		Short: "Upload an image and print its generated caption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			wf := application.Workflow
			wf.SelectStyle(style)
			if description != "" {
				wf.SelectStyle(api.StyleCustom)
				wf.SetCustomDescription(description)
			}

			fmt.Fprintln(os.Stderr, "Uploading...")
			if err := wf.Upload(ctx, args[0], nil); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Generating caption...")
			if err := wf.Generate(ctx); err != nil {
				return err
			}

			caption, err := wf.CopyText()
			if err != nil {
				return err
			}
			fmt.Println(caption)
			if copyResult {
				if err := clipboard.WriteAll(caption); err != nil {
					fmt.Fprintln(os.Stderr, "clipboard:", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&style, "style", "s", api.StyleDefault, "caption style id (see `captionit styles`)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "custom style description (implies --style custom)")
	cmd.Flags().BoolVarP(&copyResult, "copy", "c", false, "copy the caption to the clipboard")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse or prune your caption history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.History.Load(ctx); err != nil {
				return err
			}
			records := application.History.Visible()
			if len(records) == 0 {
				fmt.Println("No captions yet.")
				return nil
			}
			for _, rec := range records {
				when := rec.CreatedAt
				if t, ok := rec.CreatedTime(); ok {
					when = t.Local().Format("2006-01-02 15:04")
				}
				caption := strings.ReplaceAll(rec.EnhancedCaption, "\n", " ")
				fmt.Printf("%-24s %s  [%s]  %s\n", rec.ID, when, rec.Style, caption)
			}
			return nil
		},
	}

	var yes bool
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete the entire caption history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.History.Load(ctx); err != nil {
				return err
			}
			if err := application.History.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Println("History cleared.")
			return nil
		},
	}
	clear.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one history record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application, err := startResolved(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.History.Load(ctx); err != nil {
				return err
			}
			if err := application.History.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted.")
			return nil
		},
	}

	cmd.AddCommand(clear, del)
	return cmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate a shell completion script",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			default:
				return fmt.Errorf("unsupported shell %q", args[0])
			}
		},
	}
}
