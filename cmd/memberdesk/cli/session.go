package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/memberdesk/memberdesk/internal/rbac"
)

const passwordEnv = "MEMBERDESK_PASSWORD"

// ErrAccessDenied is returned by can-access when the tab is not allowed, so
// the process exits non-zero.
var ErrAccessDenied = errors.New("access denied")

type whoamiOutput struct {
	Status      string   `json:"status"`
	PrincipalID string   `json:"principal_id,omitempty"`
	Role        string   `json:"role,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	ResolvedAt  string   `json:"resolved_at,omitempty"`
	Tabs        []string `json:"tabs"`
	Error       string   `json:"error,omitempty"`
}

func toWhoami(st rbac.RoleState, nav []rbac.NavItem) whoamiOutput {
	out := whoamiOutput{
		Status:      string(st.Status),
		PrincipalID: st.PrincipalID,
		Tabs:        make([]string, 0, len(nav)),
	}
	if st.Status == rbac.StatusResolved {
		out.Role = st.Role.String()
		out.Stage = string(st.Stage)
		if !st.ResolvedAt.IsZero() {
			out.ResolvedAt = st.ResolvedAt.UTC().Format(time.RFC3339)
		}
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	for _, item := range nav {
		out.Tabs = append(out.Tabs, string(item.Tab))
	}
	return out
}

func (e *env) printWhoami(w io.Writer, out whoamiOutput) error {
	if e.output == "json" {
		return e.printJSON(w, out)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Status:\t%s\n", out.Status)
	if out.PrincipalID != "" {
		fmt.Fprintf(tw, "Principal:\t%s\n", out.PrincipalID)
	}
	if out.Role != "" {
		fmt.Fprintf(tw, "Role:\t%s (%s)\n", out.Role, out.Stage)
	}
	fmt.Fprintf(tw, "Tabs:\t%s\n", strings.Join(out.Tabs, ", "))
	if out.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", out.Error)
	}
	return tw.Flush()
}

func newWhoamiCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Validate the stored session and show the resolved role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			st := c.Service.Refresh(cmd.Context())
			return e.printWhoami(cmd.OutOrStdout(), toWhoami(st, c.Service.Navigation()))
		},
	}
}

func newCanAccessCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "can-access <tab>",
		Short: "Check whether the current role may open a dashboard tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			st := c.Service.Refresh(cmd.Context())
			allowed := c.Service.CanAccessTab(args[0])
			if e.output == "json" {
				if err := e.printJSON(cmd.OutOrStdout(), map[string]any{
					"tab":     args[0],
					"role":    st.Role.String(),
					"allowed": allowed,
				}); err != nil {
					return err
				}
			} else {
				verdict := "denied"
				if allowed {
					verdict = "allowed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], verdict)
			}
			if !allowed {
				return fmt.Errorf("%w: %s", ErrAccessDenied, args[0])
			}
			return nil
		},
	}
}

func newLoginCommand(e *env) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				return fmt.Errorf("password required: pass --password or set %s", passwordEnv)
			}
			c, err := e.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.Auth.SignIn(cmd.Context(), email, password); err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			st := c.Service.Refresh(cmd.Context())
			return e.printWhoami(cmd.OutOrStdout(), toWhoami(st, c.Service.Navigation()))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (defaults to $"+passwordEnv+")")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignOutCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Revoke the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Service.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("sign out: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}
