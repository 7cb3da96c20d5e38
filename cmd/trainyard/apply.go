package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/trainyard/pkg/client"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a users and nodes manifest",
	Long: `Create the users and GPU nodes listed in a YAML manifest.

Users that already exist (same email or username) are skipped. A node may
name its owner by ID (ownerId) or by username (owner).

Example manifest:

  users:
    - email: carol@example.com
      username: carol
      walletAddress: "0xCA401"
  nodes:
    - gpuModel: NVIDIA H100
      nodeUrl: http://worker4:5000
      totalMemoryMb: 81920
      owner: carol

Examples:
  trainyard apply -f cluster.yaml --api localhost:8000`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	addAPIFlag(applyCmd)
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is the document accepted by trainyard apply
type Manifest struct {
	Users []scheduler.CreateUserRequest `yaml:"users"`
	Nodes []ManifestNode                `yaml:"nodes"`
}

// ManifestNode is a node entry. Owner is a username resolved at apply time.
type ManifestNode struct {
	scheduler.CreateNodeRequest `yaml:",inline"`
	Owner                       string `yaml:"owner,omitempty"`
}

func parseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(m.Users) == 0 && len(m.Nodes) == 0 {
		return nil, fmt.Errorf("manifest has no users or nodes")
	}
	for i, n := range m.Nodes {
		if n.OwnerID == "" && n.Owner == "" {
			return nil, fmt.Errorf("node %d (%s) needs ownerId or owner", i, n.NodeURL)
		}
	}
	return &m, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	manifest, err := parseManifest(data)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	return applyManifest(ctx, newClient(cmd), manifest)
}

func applyManifest(ctx context.Context, c *client.Client, m *Manifest) error {
	for _, req := range m.Users {
		user, err := c.CreateUser(ctx, req)
		if errors.Is(err, types.ErrConflict) {
			fmt.Printf("User already exists: %s (skipping)\n", req.Username)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create user %s: %w", req.Username, err)
		}
		fmt.Printf("✓ User created: %s (ID: %s)\n", user.Username, user.ID)
	}

	if len(m.Nodes) == 0 {
		return nil
	}
	users, err := c.ListUsers(ctx)
	if err != nil {
		return err
	}
	byUsername := make(map[string]string, len(users))
	for _, u := range users {
		byUsername[u.Username] = u.ID
	}

	for _, n := range m.Nodes {
		req := n.CreateNodeRequest
		if req.OwnerID == "" {
			id, ok := byUsername[n.Owner]
			if !ok {
				return fmt.Errorf("node %s: unknown owner %s", req.NodeURL, n.Owner)
			}
			req.OwnerID = id
		}
		node, err := c.CreateNode(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to create node %s: %w", req.NodeURL, err)
		}
		fmt.Printf("✓ Node created: %s (ID: %s, %d MB)\n", node.GPUModel, node.ID, node.TotalMemoryMb)
	}
	return nil
}
