package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/lockhaven/tenantd/pkg/audit"
	"github.com/lockhaven/tenantd/pkg/auth"
	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/config"
	"github.com/lockhaven/tenantd/pkg/tenants"
	"github.com/lockhaven/tenantd/pkg/users"
)

const usage = `tenantctl - operator tooling for tenantd

Usage: tenantctl <command> [flags]

Commands:
  bootstrap-admin   Create the first master administrator
  create-user       Create a user account
  grant-admin       Grant the master administrator flag to a user
  revoke-admin      Revoke the master administrator flag from a user
  delete-user       Delete a user account
  list-admins       List master administrators
  list-users        List all users
  create-token      Mint a service token for a user
  migrate           Run database migrations and exit

Global flags are read from the environment (TENANTD_POSTGRES_URL etc).
`

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Fatal("database unreachable")
	}

	app := &app{ctx: ctx, db: db, logger: logger}
	if err := app.run(os.Args[1], os.Args[2:]); err != nil {
		logger.WithError(err).Fatal("command failed")
	}
}

type app struct {
	ctx    context.Context
	db     *sql.DB
	logger *logrus.Logger
}

func (a *app) services() (*users.PostgresService, error) {
	recorder, err := audit.NewRecorder(a.db)
	if err != nil {
		return nil, err
	}
	return users.NewPostgresService(a.db, recorder), nil
}

func (a *app) run(command string, args []string) error {
	switch command {
	case "bootstrap-admin":
		return a.bootstrapAdmin(args)
	case "create-user":
		return a.createUser(args)
	case "grant-admin":
		return a.setAdmin(args, true)
	case "revoke-admin":
		return a.setAdmin(args, false)
	case "delete-user":
		return a.deleteUser(args)
	case "list-admins":
		return a.listUsers(args, true)
	case "list-users":
		return a.listUsers(args, false)
	case "create-token":
		return a.createToken(args)
	case "migrate":
		return tenants.RunMigrations(a.ctx, a.db)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// resolveActor looks up the acting administrator named by --actor. Mutations
// other than bootstrap require an existing master admin to act as.
func (a *app) resolveActor(svc *users.PostgresService, email string) (*authz.Actor, error) {
	if email == "" {
		return nil, fmt.Errorf("--actor is required")
	}
	user, err := svc.GetUserByEmail(a.ctx, email)
	if err != nil {
		return nil, err
	}
	return &authz.Actor{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		IsMasterAdmin: user.IsMasterAdmin,
	}, nil
}

func (a *app) bootstrapAdmin(args []string) error {
	fs := flag.NewFlagSet("bootstrap-admin", flag.ExitOnError)
	name := fs.String("name", "", "Administrator display name")
	email := fs.String("email", "", "Administrator email address")
	fs.Parse(args)

	svc, err := a.services()
	if err != nil {
		return err
	}

	user, err := svc.Bootstrap(a.ctx, *name, *email)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{"id": user.ID, "email": user.Email}).Info("master administrator created")
	return nil
}

func (a *app) createUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	actorEmail := fs.String("actor", "", "Email of the acting master administrator")
	name := fs.String("name", "", "User display name")
	email := fs.String("email", "", "User email address")
	fs.Parse(args)

	svc, err := a.services()
	if err != nil {
		return err
	}
	actor, err := a.resolveActor(svc, *actorEmail)
	if err != nil {
		return err
	}

	user, err := svc.CreateUser(a.ctx, actor, &users.CreateUserRequest{Name: *name, Email: *email})
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{"id": user.ID, "email": user.Email}).Info("user created")
	return nil
}

func (a *app) setAdmin(args []string, granted bool) error {
	name := "grant-admin"
	if !granted {
		name = "revoke-admin"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	actorEmail := fs.String("actor", "", "Email of the acting master administrator")
	email := fs.String("email", "", "Email of the target user")
	fs.Parse(args)

	svc, err := a.services()
	if err != nil {
		return err
	}
	actor, err := a.resolveActor(svc, *actorEmail)
	if err != nil {
		return err
	}
	target, err := svc.GetUserByEmail(a.ctx, *email)
	if err != nil {
		return err
	}

	user, err := svc.SetMasterAdmin(a.ctx, actor, target.ID, granted)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"id":            user.ID,
		"email":         user.Email,
		"isMasterAdmin": user.IsMasterAdmin,
	}).Info("master admin flag updated")
	return nil
}

func (a *app) deleteUser(args []string) error {
	fs := flag.NewFlagSet("delete-user", flag.ExitOnError)
	actorEmail := fs.String("actor", "", "Email of the acting master administrator")
	email := fs.String("email", "", "Email of the target user")
	fs.Parse(args)

	svc, err := a.services()
	if err != nil {
		return err
	}
	actor, err := a.resolveActor(svc, *actorEmail)
	if err != nil {
		return err
	}
	target, err := svc.GetUserByEmail(a.ctx, *email)
	if err != nil {
		return err
	}

	if err := svc.DeleteUser(a.ctx, actor, target.ID); err != nil {
		return err
	}

	a.logger.WithField("email", *email).Info("user deleted")
	return nil
}

func (a *app) listUsers(args []string, adminsOnly bool) error {
	svc, err := a.services()
	if err != nil {
		return err
	}

	var list []*users.User
	if adminsOnly {
		list, err = svc.ListMasterAdmins(a.ctx)
	} else {
		list, err = svc.ListUsers(a.ctx)
	}
	if err != nil {
		return err
	}

	for _, u := range list {
		marker := " "
		if u.IsMasterAdmin {
			marker = "*"
		}
		fmt.Printf("%s %6d  %-30s %s\n", marker, u.ID, u.Email, u.Name)
	}
	return nil
}

func (a *app) createToken(args []string) error {
	fs := flag.NewFlagSet("create-token", flag.ExitOnError)
	email := fs.String("email", "", "Email of the token owner")
	name := fs.String("name", "", "Token name")
	ttl := fs.Duration("ttl", 0, "Token lifetime (0 for no expiry)")
	fs.Parse(args)

	svc, err := a.services()
	if err != nil {
		return err
	}
	user, err := svc.GetUserByEmail(a.ctx, *email)
	if err != nil {
		return err
	}

	manager, err := auth.NewTokenManager(a.db)
	if err != nil {
		return err
	}

	plaintext, token, err := manager.CreateToken(a.ctx, user.ID, *name, *ttl)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{"id": token.ID, "name": token.Name}).Info("token created")
	// The plaintext is shown exactly once; only its hash is stored.
	fmt.Println(plaintext)
	return nil
}
