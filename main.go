package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"komfy-library/library"
	"komfy-library/server"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "komfy",
		Short: "Komfy Library circulation server",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "komfy.yaml", "path to config file")

	root.AddCommand(serveCmd(), sweepCmd(), createAdminCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (Config, *library.Manager, library.EmailSender, *logrus.Logger, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return cfg, nil, nil, nil, err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	db, err := library.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return cfg, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	var mailer library.EmailSender
	if cfg.Email.Host != "" {
		mailer = library.NewSMTPSender(cfg.Email)
	}

	mgr := library.NewManager(db, mailer, log)
	return cfg, mgr, mailer, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily overdue sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, mgr, mailer, log, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := library.NewSweeper(mgr, mailer, log, cfg.SweepEvery())
			go sweeper.Run(ctx)

			srv := server.New(mgr, log, []byte(cfg.JWTSecret), cfg.BaseURL)
			httpSrv := &http.Server{
				Addr:    cfg.Listen,
				Handler: srv.Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Listen).Info("listening")
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one overdue sweep cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, mgr, mailer, log, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			sweeper := library.NewSweeper(mgr, mailer, log, cfg.SweepEvery())
			return sweeper.Sweep()
		},
	}
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func createAdminCmd() *cobra.Command {
	var userID, name, email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, _, _, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			password, err := readPassword("Enter password for new admin: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			user, err := mgr.AddUser(userID, name, email, password, library.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (%s)\n", user.ID, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "user ID for the admin account")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load a starter catalog into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, _, log, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			books := []*library.Book{
				{Title: "The Great Gatsby", Code: "GAT-001", Genre: "Classic", Author: "F. Scott Fitzgerald", Publisher: "Scribner", Quantity: 3},
				{Title: "To Kill a Mockingbird", Code: "MOC-001", Genre: "Classic", Author: "Harper Lee", Publisher: "J.B. Lippincott", Quantity: 2},
				{Title: "1984", Code: "ORW-001", Genre: "Dystopian", Author: "George Orwell", Publisher: "Secker & Warburg", Quantity: 4},
				{Title: "Pride and Prejudice", Code: "AUS-001", Genre: "Romance", Author: "Jane Austen", Publisher: "T. Egerton", Quantity: 2},
				{Title: "The Hobbit", Code: "TOL-001", Genre: "Fantasy", Author: "J.R.R. Tolkien", Publisher: "Allen & Unwin", Quantity: 3},
				{Title: "Brave New World", Code: "HUX-001", Genre: "Dystopian", Author: "Aldous Huxley", Publisher: "Chatto & Windus", Quantity: 2},
			}

			added := 0
			for _, b := range books {
				if _, err := mgr.AddBook(b); err != nil {
					log.WithError(err).WithField("code", b.Code).Warn("skipping book")
					continue
				}
				added++
			}
			fmt.Printf("Seeded %d books\n", added)
			return nil
		},
	}
}
