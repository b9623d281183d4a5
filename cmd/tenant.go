package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/repository"
	authRepo "botforge/internal/repository/auth"
	usageRepo "botforge/internal/repository/usage"
	"botforge/internal/service"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant plans and status",
}

var setPlanCmd = &cobra.Command{
	Use:   "set-plan <username> <plan>",
	Short: "Assign a plan to a tenant",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetPlan,
}

var banCmd = &cobra.Command{
	Use:   "ban <username>",
	Short: "Disable a tenant; issued tokens stop working",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetStatus(cmd, args[0], auth.UserStatusBanned)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban <username>",
	Short: "Re-enable a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetStatus(cmd, args[0], auth.UserStatusActive)
	},
}

func init() {
	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(setPlanCmd, banCmd, unbanCmd)

	flags := setPlanCmd.Flags()
	flags.Int64("max-messages", 0, "override max_messages_per_month (-1 = unlimited)")
	flags.Int64("max-chatbots", 0, "override max_chatbots (-1 = unlimited)")
	flags.Int64("max-file-size", 0, "override max_file_size in bytes (-1 = unlimited)")
	flags.StringSlice("providers", nil, "override allowed_providers")
}

// withAuthService 连接 Mongo 并构造管理用的 AuthService
func withAuthService(fn func(*service.AuthService) error) error {
	client, err := connectMongo()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close(context.Background())
	}()

	db := client.Database()
	stores := repository.Stores{
		Tenants: authRepo.NewUserRepo(db),
		Plans:   usageRepo.NewPlanRepo(db),
		Usage:   usageRepo.NewUsageRepo(db),
	}
	cfg := GetConfig()
	quota := service.NewQuotaGate(stores, cfg.Plans)
	return fn(service.NewAuthService(stores.Tenants, quota, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry))
}

func runSetPlan(cmd *cobra.Command, args []string) error {
	overrides, err := overridesFromFlags(cmd)
	if err != nil {
		return err
	}
	return withAuthService(func(svc *service.AuthService) error {
		user, err := svc.AssignPlan(cmd.Context(), args[0], args[1], overrides)
		if err != nil {
			return err
		}
		fmt.Printf("Plan assigned: username=%s plan=%s\n", user.Username, user.Plan)
		return nil
	})
}

func runSetStatus(cmd *cobra.Command, username string, status auth.UserStatus) error {
	return withAuthService(func(svc *service.AuthService) error {
		if err := svc.SetStatus(cmd.Context(), username, status); err != nil {
			return err
		}
		fmt.Printf("Tenant updated: username=%s status=%s\n", username, status)
		return nil
	})
}

// overridesFromFlags 只收集显式传入的参数，全部未传时返回 nil
func overridesFromFlags(cmd *cobra.Command) (*plan.Overrides, error) {
	flags := cmd.Flags()
	o := &plan.Overrides{}
	set := false

	for name, dst := range map[string]**int64{
		"max-messages":  &o.MaxMessagesPerMonth,
		"max-chatbots":  &o.MaxChatbots,
		"max-file-size": &o.MaxFileSize,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt64(name)
		if err != nil {
			return nil, err
		}
		*dst = &v
		set = true
	}
	if flags.Changed("providers") {
		providers, err := flags.GetStringSlice("providers")
		if err != nil {
			return nil, err
		}
		o.AllowedProviders = providers
		set = true
	}

	if !set {
		return nil, nil
	}
	return o, nil
}
