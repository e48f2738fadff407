package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/booking/internal/config"
	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic appointment booking API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(usersCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openDatabase loads the configuration and connects to Postgres.
func openDatabase(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage bookable time slots",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate slots for a doctor over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := bulkInputFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, pool, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			idSvc := identity.NewService(identity.NewUserRepo(pool), identity.NewProfileRepo(pool))
			registry := scheduling.NewSlotRegistry(scheduling.NewSlotRepo(pool), idSvc, loc, newLogger(cfg.Env))

			res, err := registry.CreateSlots(ctx, identity.Actor{Role: identity.RoleAdmin}, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d slot(s), skipped %d existing.\n", len(res.Created), res.Skipped)
			return nil
		},
	}
	generate.Flags().String("doctor", "", "Doctor user id")
	generate.Flags().String("from", "", "First day (YYYY-MM-DD)")
	generate.Flags().String("to", "", "Last day (YYYY-MM-DD), defaults to --from")
	generate.Flags().String("start", "09:00", "Day start (HH:MM)")
	generate.Flags().String("end", "17:00", "Day end (HH:MM)")
	generate.Flags().Int("interval", 30, "Slot length in minutes")
	cmd.AddCommand(generate)

	return cmd
}

func bulkInputFromFlags(cmd *cobra.Command) (scheduling.BulkSlotInput, error) {
	var in scheduling.BulkSlotInput
	doctor, _ := cmd.Flags().GetString("doctor")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	interval, _ := cmd.Flags().GetInt("interval")

	doctorID, err := uuid.Parse(doctor)
	if err != nil {
		return in, fmt.Errorf("--doctor must be a user id: %w", err)
	}
	if to == "" {
		to = from
	}
	if in.From, err = scheduling.ParseDate(from); err != nil {
		return in, fmt.Errorf("--from: %w", err)
	}
	if in.To, err = scheduling.ParseDate(to); err != nil {
		return in, fmt.Errorf("--to: %w", err)
	}
	if in.DayStart, err = scheduling.ParseClock(start); err != nil {
		return in, fmt.Errorf("--start: %w", err)
	}
	if in.DayEnd, err = scheduling.ParseClock(end); err != nil {
		return in, fmt.Errorf("--end: %w", err)
	}
	in.DoctorID = doctorID
	in.Interval = interval
	return in, nil
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage clinic users",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a doctor, secretary, patient or admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := userFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			_, pool, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			idSvc := identity.NewService(identity.NewUserRepo(pool), identity.NewProfileRepo(pool))
			if err := idSvc.CreateUser(ctx, u); err != nil {
				return err
			}
			if u.Role == identity.RolePatient {
				if _, err := idSvc.GetOrCreateProfile(ctx, u.ID); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", u.Role, u.ID, u.Email)
			return nil
		},
	}
	add.Flags().String("role", "", "doctor, secretary, patient or admin")
	add.Flags().String("email", "", "Email address")
	add.Flags().String("first-name", "", "First name")
	add.Flags().String("last-name", "", "Last name")
	add.Flags().String("phone", "", "Phone number")
	cmd.AddCommand(add)

	return cmd
}

func userFromFlags(cmd *cobra.Command) (*identity.User, error) {
	role, _ := cmd.Flags().GetString("role")
	email, _ := cmd.Flags().GetString("email")
	first, _ := cmd.Flags().GetString("first-name")
	last, _ := cmd.Flags().GetString("last-name")
	phone, _ := cmd.Flags().GetString("phone")

	r := identity.Role(strings.ToLower(strings.TrimSpace(role)))
	if !r.Valid() {
		return nil, fmt.Errorf("--role must be one of doctor, secretary, patient, admin")
	}
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("--email is required")
	}
	u := &identity.User{
		Role:      r,
		FirstName: first,
		LastName:  last,
		Email:     email,
	}
	if phone != "" {
		u.Phone = &phone
	}
	return u, nil
}
