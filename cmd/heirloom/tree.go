package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/familytree"
	"github.com/dukerupert/heirloom/internal/service"
	"github.com/dukerupert/heirloom/internal/store"
)

var (
	treeFamilyID string

	treeCmd = &cobra.Command{
		Use:   "tree",
		Short: "Print a family's tree as an indented outline",
		RunE:  runTree,
	}

	tokenUserID string
	tokenTTL    time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
			if err != nil {
				return err
			}
			tok, err := v.Sign(tokenUserID, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
)

func init() {
	treeCmd.Flags().StringVar(&treeFamilyID, "family", "", "family id")
	treeCmd.MarkFlagRequired("family")

	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "user id for the token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user")
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tree := service.NewTree(treeFamilyID, service.Stores{
		Members:       store.NewTreeMemberStore(db),
		Relationships: store.NewRelationshipStore(db),
	}, logger)
	if err := tree.Load(ctx); err != nil {
		return err
	}

	snap := tree.Snapshot()
	out := cmd.OutOrStdout()
	if len(snap.Forest) == 0 {
		fmt.Fprintln(out, "(no family members)")
		return nil
	}
	if err := familytree.WriteOutline(out, snap.Forest); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d members in %d generations", familytree.Count(snap.Forest), len(familytree.Generations(snap.Forest)))
	if n := len(snap.Quarantined); n > 0 {
		fmt.Fprintf(out, ", %d rows skipped", n)
	}
	fmt.Fprintln(out)
	return nil
}
