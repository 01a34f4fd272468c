package command

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/virtual-queue/internal/config"
	"github.com/iliyamo/virtual-queue/internal/database"
)

type Migrate struct {
	Logger *logrus.Logger
}

func (cmd Migrate) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		Run: func(_ *cobra.Command, args []string) {
			if err := cmd.main(ctx, cfg, args[0]); err != nil {
				cmd.Logger.WithContext(ctx).Fatal(err)
			}
		},
	}
}

func (cmd Migrate) main(ctx context.Context, cfg config.Config, direction string) error {
	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return errors.Wrap(err, "migrate: failed to connect to mysql")
	}
	defer db.Close()

	switch direction {
	case "up":
		err = database.MigrateUp(db, cfg.DB.Name)
	case "down":
		err = database.MigrateDown(db, cfg.DB.Name)
	default:
		return errors.Errorf("migration command : %s is not supported", direction)
	}
	if err != nil {
		return err
	}
	cmd.Logger.WithFields(logrus.Fields{"direction": direction, "database": cfg.DB.Name}).Info("migration applied")
	return nil
}
