package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/spf13/cobra"
)

func tenantCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Create, suspend and wipe tenants",
	}
	cmd.AddCommand(tenantCreateCmd(e), tenantActiveCmd(e, true), tenantActiveCmd(e, false), tenantWipeCmd(e))
	return cmd
}

func tenantCreateCmd(e *env) *cobra.Command {
	var req services.SignupRequest
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tenant and its admin user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TenantName = args[0]
			if req.Password == "" {
				req.Password = os.Getenv("CRM_ADMIN_PASSWORD")
			}
			if req.Email == "" || req.Password == "" {
				return fmt.Errorf("--admin-email and a password (--password or CRM_ADMIN_PASSWORD) are required")
			}
			if req.Name == "" {
				req.Name = req.Email
			}

			svcMgr, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svcMgr.Auth.Signup(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s (%s) created, admin %s <%s>\n",
				res.Tenant.Slug, res.Tenant.ID, res.User.ID, res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "admin-email", "", "email of the first admin")
	cmd.Flags().StringVar(&req.Name, "admin-name", "", "display name of the first admin (default: email)")
	cmd.Flags().StringVar(&req.Password, "password", "", "admin password (default: $CRM_ADMIN_PASSWORD)")
	return cmd
}

func tenantActiveCmd(e *env, active bool) *cobra.Command {
	use, short := "deactivate <id|slug>", "Suspend a tenant; its users can no longer log in"
	if active {
		use, short = "activate <id|slug>", "Reactivate a suspended tenant"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcMgr, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			t, err := svcMgr.Tenants.SetActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s active=%t\n", t.Slug, t.IsActive)
			return nil
		},
	}
}

func tenantWipeCmd(e *env) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "wipe <id|slug>",
		Short: "Delete every row of a tenant, then the tenant itself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to wipe tenant %s without --yes", args[0])
			}
			svcMgr, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := svcMgr.Tenants.Wipe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRemoved(cmd, removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the irreversible wipe")
	return cmd
}

func printRemoved(cmd *cobra.Command, removed map[string]int64) {
	tables := make([]string, 0, len(removed))
	for t := range removed {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, t := range tables {
		fmt.Fprintf(w, "%s\t%d\n", t, removed[t])
	}
	_ = w.Flush()
}
