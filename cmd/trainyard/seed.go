package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/trainyard/pkg/ledger"
	"github.com/cuemby/trainyard/pkg/lifecycle"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the ledger with demo users and GPU nodes",
	Long: `Seed an offline ledger database with two users (alice, bob) and three
ONLINE GPU nodes. Records that already exist are left untouched, so seeding
twice is harmless. Stop trainyard serve first: the database is locked while
the server runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		users, nodes, err := seed(ctx, store)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Seed finished: %d users, %d nodes created\n", users, nodes)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("data-dir", "./trainyard-data", "Data directory for the ledger database")
	rootCmd.AddCommand(seedCmd)
}

type seedNode struct {
	owner string
	req   scheduler.CreateNodeRequest
}

var (
	seedUsers = []scheduler.CreateUserRequest{
		{Email: "alice@example.com", Username: "alice", WalletAddress: "0xAL1CE1234567890"},
		{Email: "bob@example.com", Username: "bob", WalletAddress: "0xB0B0987654321"},
	}

	seedNodes = []seedNode{
		{owner: "alice", req: scheduler.CreateNodeRequest{GPUModel: "NVIDIA RTX 4090", NodeURL: "http://worker1:5000", TotalMemoryMb: 24576}},
		{owner: "bob", req: scheduler.CreateNodeRequest{GPUModel: "NVIDIA A100-80G", NodeURL: "http://worker2:5000", TotalMemoryMb: 81920}},
		{owner: "bob", req: scheduler.CreateNodeRequest{GPUModel: "NVIDIA A100-800G", NodeURL: "http://worker3:5000", TotalMemoryMb: 24576}},
	}
)

// seed creates the demo users and nodes that are missing and returns how
// many of each it created
func seed(ctx context.Context, store storage.Store) (int, int, error) {
	l := ledger.NewLedger(store)
	sched := scheduler.NewScheduler(store, l, lifecycle.NewLifecycle(store, l, nil), nil, nil, scheduler.Options{})

	existing, err := sched.ListUsers(ctx)
	if err != nil {
		return 0, 0, err
	}
	byUsername := make(map[string]string, len(existing))
	for _, u := range existing {
		byUsername[u.Username] = u.ID
	}

	usersCreated := 0
	for _, req := range seedUsers {
		if _, ok := byUsername[req.Username]; ok {
			continue
		}
		user, err := sched.CreateUser(ctx, req)
		if err != nil && !errors.Is(err, types.ErrConflict) {
			return usersCreated, 0, fmt.Errorf("failed to seed user %s: %w", req.Username, err)
		}
		if user != nil {
			byUsername[user.Username] = user.ID
			usersCreated++
		}
	}

	nodes, err := sched.ListNodes(ctx)
	if err != nil {
		return usersCreated, 0, err
	}
	byURL := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		byURL[strings.TrimRight(n.NodeURL, "/")] = true
	}

	nodesCreated := 0
	for _, sn := range seedNodes {
		if byURL[sn.req.NodeURL] {
			continue
		}
		ownerID, ok := byUsername[sn.owner]
		if !ok {
			return usersCreated, nodesCreated, fmt.Errorf("seed owner %s is missing", sn.owner)
		}
		req := sn.req
		req.OwnerID = ownerID
		req.Status = types.NodeStatusOnline
		if _, err := sched.CreateNode(ctx, req); err != nil {
			return usersCreated, nodesCreated, fmt.Errorf("failed to seed node %s: %w", req.NodeURL, err)
		}
		nodesCreated++
	}

	return usersCreated, nodesCreated, nil
}
