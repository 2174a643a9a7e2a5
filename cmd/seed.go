// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"context"
	"log"

	"github.com/agubarev/dominion/pkg/database"
	"github.com/agubarev/dominion/pkg/domain"
	"github.com/agubarev/dominion/pkg/util"
	"github.com/spf13/cobra"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a development database with a demo domain hierarchy.",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		db := database.MySQLConnection()

		s, err := domain.NewMySQLStore(db)
		if err != nil {
			log.Fatalf("failed to initialize domain store: %s", err)
		}

		rc, err := domain.NewMySQLRefCounter(db)
		if err != nil {
			log.Fatalf("failed to initialize domain reference counter: %s", err)
		}

		m, err := domain.NewManager(ctx, s, rc)
		if err != nil {
			log.Fatalf("failed to initialize domain manager: %s", err)
		}

		logger, err := util.DefaultLogger(false, "")
		if err != nil {
			log.Fatalf("failed to initialize logger: %s", err)
		}

		if err := m.SetLogger(logger); err != nil {
			log.Fatalf("failed to assign logger: %s", err)
		}

		head, err := m.Create(ctx, 0, "Head Office")
		if err != nil {
			log.Fatalf("failed to create domain: %s", err)
		}

		north, err := m.Create(ctx, head.ID, "Regional Office North")
		if err != nil {
			log.Fatalf("failed to create domain: %s", err)
		}

		south, err := m.Create(ctx, head.ID, "Regional Office South")
		if err != nil {
			log.Fatalf("failed to create domain: %s", err)
		}

		departments := []string{"Engineering", "Accounting", "Support"}

		for _, office := range []domain.Domain{north, south} {
			for _, name := range departments {
				if _, err := m.Create(ctx, office.ID, name); err != nil {
					log.Fatalf("failed to create domain: %s", err)
				}
			}
		}

		log.Printf("seeded %d domains", len(m.List(ctx)))
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
