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

// treeCmd represents the tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the stored domain forest as nested JSON.",
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

		util.PrettyPrint(true, m.Tree(ctx))
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
