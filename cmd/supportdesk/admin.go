package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/supportdesk/internal/adapter/postgres"
	"github.com/Strob0t/supportdesk/internal/auth"
	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/tenant"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/service"
	"github.com/Strob0t/supportdesk/internal/validation"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "add-tenant":
		return runAdminAddTenant(args[1:])
	case "add-assistant":
		return runAdminAddAssistant(args[1:])
	case "create-agent":
		return runAdminCreateAgent(args[1:])
	case "list-agents":
		return runAdminListAgents(args[1:])
	case "issue-token":
		return runAdminIssueToken(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: supportdesk admin <command> [options]

Commands:
  add-tenant      Create or update a tenant record
  add-assistant   Create or update an assistant of a tenant
  create-agent    Create an agent account in a tenant
  list-agents     List the agents of a tenant
  issue-token     Sign a session token for an owner or agent
  help            Show this help message

Examples:
  supportdesk admin add-tenant --id acme --name "Acme" --storage postgres://acme@db/acme
  supportdesk admin add-assistant --id bot-acme --tenant acme --kb kb-acme --ready
  supportdesk admin create-agent --tenant acme --username alice
  supportdesk admin list-agents --tenant acme
  supportdesk admin issue-token --tenant acme --role tenant-owner --ttl 24h
`)
}

type adminDeps struct {
	dir     *postgres.Directory
	tenants *service.TenantResolver
	cleanup func()
}

func loadAdminDeps() (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.TenantStore.Driver != config.DriverPostgres {
		return nil, errors.New("admin commands need tenant_store.driver postgres")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	dir := postgres.NewDirectory(pool)
	registry := postgres.NewRegistry(cfg.TenantStore)
	return &adminDeps{
		dir:     dir,
		tenants: service.NewTenantResolver(dir, registry),
		cleanup: func() {
			registry.Close()
			pool.Close()
		},
	}, nil
}

func runAdminAddTenant(args []string) error {
	fs := flag.NewFlagSet("add-tenant", flag.ContinueOnError)
	id := fs.String("id", "", "tenant id (required)")
	name := fs.String("name", "", "display name")
	storage := fs.String("storage", "", "tenant database DSN (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *storage == "" {
		return fmt.Errorf("--id and --storage are required")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	if err := deps.dir.UpsertTenant(context.Background(), &tenant.Tenant{ID: *id, Name: *name, StorageAddress: *storage}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Tenant saved: %s\n", *id)
	return nil
}

func runAdminAddAssistant(args []string) error {
	fs := flag.NewFlagSet("add-assistant", flag.ContinueOnError)
	id := fs.String("id", "", "assistant (bot) id (required)")
	tenantID := fs.String("tenant", "", "tenant id (required)")
	name := fs.String("name", "", "display name")
	kb := fs.String("kb", "", "knowledge base reference")
	sources := fs.String("sources", "", "comma separated source URLs")
	ready := fs.Bool("ready", false, "mark the knowledge base ready")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *tenantID == "" {
		return fmt.Errorf("--id and --tenant are required")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	ctx := context.Background()
	a := &tenant.Assistant{ID: *id, TenantID: *tenantID, Name: *name, KnowledgeRef: *kb, KnowledgeReady: *ready}
	if *sources != "" {
		a.SourceURLs = strings.Split(*sources, ",")
	}
	if err := deps.dir.UpsertAssistant(ctx, a); err != nil {
		return err
	}
	if *ready {
		if err := deps.dir.MarkKnowledgeReady(ctx, *id, true, time.Now().UTC()); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "Assistant saved: %s (tenant=%s, ready=%t)\n", *id, *tenantID, *ready)
	return nil
}

func runAdminCreateAgent(args []string) error {
	fs := flag.NewFlagSet("create-agent", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required)")
	username := fs.String("username", "", "login name (required)")
	name := fs.String("name", "", "display name")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *username == "" {
		return fmt.Errorf("--tenant and --username are required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	owner := &user.Claims{Subject: "admin-cli", Role: user.RoleOwner, TenantID: *tenantID}
	agents := service.NewAgentService(deps.tenants, validation.New())
	a, err := agents.Create(context.Background(), owner, agent.CreateRequest{
		Username:    *username,
		Password:    pass,
		DisplayName: *name,
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Agent created: %s (id=%s, tenant=%s)\n", a.Username, a.ID, a.TenantID)
	return nil
}

func runAdminListAgents(args []string) error {
	fs := flag.NewFlagSet("list-agents", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	owner := &user.Claims{Subject: "admin-cli", Role: user.RoleOwner, TenantID: *tenantID}
	agents, err := service.NewAgentService(deps.tenants, validation.New()).List(context.Background(), owner)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	if len(agents) == 0 {
		fmt.Println("No agents found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tSTATUS\tACTIVE")
	for i := range agents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			agents[i].ID, agents[i].Username, agents[i].DisplayName, agents[i].Status, agents[i].IsActive)
	}
	return w.Flush()
}

func runAdminIssueToken(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required)")
	role := fs.String("role", string(user.RoleOwner), "tenant-owner or agent")
	agentID := fs.String("agent-id", "", "agent id, required for agents")
	subject := fs.String("subject", "", "token subject (defaults to the agent id)")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set")
	}

	c := user.Claims{Subject: *subject, Role: user.Role(*role), TenantID: *tenantID, AgentID: *agentID}
	if c.Subject == "" {
		c.Subject = c.AgentID
	}
	if err := c.Validate(); err != nil {
		return err
	}
	token, err := auth.NewSigner([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer).Sign(c, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
