package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage GPU nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes and their free memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		nodes, err := newClient(cmd).ListNodes(ctx, owner)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tGPU\tSTATUS\tFREE MB\tTOTAL MB\tTASKS\tURL")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				n.ID, n.GPUModel, n.Status, n.FreeMemoryMb, n.TotalMemoryMb, len(n.Tasks), n.NodeURL)
		}
		return w.Flush()
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get NODE_ID",
	Short: "Show a node and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		n, err := newClient(cmd).GetNode(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", n.ID)
		fmt.Printf("GPU:      %s\n", n.GPUModel)
		fmt.Printf("URL:      %s\n", n.NodeURL)
		fmt.Printf("Status:   %s\n", n.Status)
		fmt.Printf("Owner:    %s\n", n.OwnerID)
		fmt.Printf("Memory:   %d / %d MB free\n", n.FreeMemoryMb, n.TotalMemoryMb)
		if len(n.Tasks) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tNAME\tSTATUS\tMEMORY MB")
		for _, t := range n.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Status, t.UsedNodeMemoryMb)
		}
		return w.Flush()
	},
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status NODE_ID ONLINE|OFFLINE",
	Short: "Set a node's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := types.NodeStatus(strings.ToUpper(args[1]))

		ctx, cancel := commandContext(cmd)
		defer cancel()
		n, err := newClient(cmd).UpdateNode(ctx, args[0], scheduler.UpdateNodeRequest{Status: &status})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node %s is %s\n", n.ID, n.Status)
		return nil
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete NODE_ID",
	Short: "Delete a node with no RUNNING tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		n, err := newClient(cmd).DeleteNode(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node deleted: %s\n", n.ID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{nodeListCmd, nodeGetCmd, nodeStatusCmd, nodeDeleteCmd} {
		addAPIFlag(c)
		nodeCmd.AddCommand(c)
	}
	nodeListCmd.Flags().String("owner", "", "Only list nodes of this owner ID")

	rootCmd.AddCommand(nodeCmd)
}
