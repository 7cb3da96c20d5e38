package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/trainyard/pkg/client"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage training tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer, _ := cmd.Flags().GetString("consumer")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		tasks, err := newClient(cmd).ListTasks(ctx, consumer)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tNODE\tMEMORY MB\tCREATED")
		for _, t := range tasks {
			node := t.NodeID
			if node == "" {
				node = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.Name, t.Status, node, t.UsedNodeMemoryMb, t.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit NAME",
	Short: "Submit a training task",
	Long: `Upload a model definition and a dataset as a new training task.

Examples:
  trainyard task submit resnet --consumer <user-id> --model model.py --dataset train.csv
  trainyard task submit resnet --consumer <user-id> --model model.py --dataset train.csv --memory 20000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer, _ := cmd.Flags().GetString("consumer")
		modelPath, _ := cmd.Flags().GetString("model")
		datasetPath, _ := cmd.Flags().GetString("dataset")
		memory, _ := cmd.Flags().GetInt64("memory")

		model, err := os.ReadFile(modelPath)
		if err != nil {
			return fmt.Errorf("failed to read model definition: %w", err)
		}
		dataset, err := os.ReadFile(datasetPath)
		if err != nil {
			return fmt.Errorf("failed to read dataset: %w", err)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		t, err := newClient(cmd).SubmitTask(ctx, client.SubmitRequest{
			Name:              args[0],
			ConsumerID:        consumer,
			EstimatedMemoryMb: memory,
			ModelDefinition:   model,
			Dataset:           dataset,
		})
		if err != nil {
			return err
		}

		node := t.NodeID
		if node == "" {
			node = "none (no node has enough free memory)"
		}
		fmt.Printf("✓ Task submitted: %s (ID: %s)\n", t.Name, t.ID)
		fmt.Printf("  Node:   %s\n", node)
		fmt.Printf("  Memory: %d MB\n", t.UsedNodeMemoryMb)
		return nil
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get TASK_ID",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		t, err := newClient(cmd).GetTask(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:        %s\n", t.ID)
		fmt.Printf("Name:      %s\n", t.Name)
		fmt.Printf("Consumer:  %s\n", t.ConsumerID)
		fmt.Printf("Status:    %s\n", t.Status)
		fmt.Printf("Node:      %s\n", t.NodeID)
		fmt.Printf("Memory:    %d MB (reserved: %t)\n", t.UsedNodeMemoryMb, t.Reserved)
		fmt.Printf("Dataset:   %d bytes (%d stored)\n", t.DatasetSizeBytes, t.DatasetInlineBytes)
		fmt.Printf("Created:   %s\n", t.CreatedAt.Format(time.RFC3339))
		if !t.StartedAt.IsZero() {
			fmt.Printf("Started:   %s\n", t.StartedAt.Format(time.RFC3339))
		}
		if !t.FinishedAt.IsZero() {
			fmt.Printf("Finished:  %s\n", t.FinishedAt.Format(time.RFC3339))
		}
		if t.HasResult() {
			fmt.Printf("Model:     %d bytes\n", t.TrainedModelSizeBytes)
		}
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status TASK_ID STATUS",
	Short: "Move a task to QUEUED, RUNNING, COMPLETED, FAILED or CANCELLED",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := types.TaskStatus(strings.ToUpper(args[1]))

		ctx, cancel := commandContext(cmd)
		defer cancel()
		t, err := newClient(cmd).UpdateTaskStatus(ctx, args[0], status)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task %s is %s\n", t.ID, t.Status)
		return nil
	},
}

var taskReassignCmd = &cobra.Command{
	Use:   "reassign TASK_ID",
	Short: "Move a task to another node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		t, err := newClient(cmd).ReassignTask(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task %s reassigned to node %s\n", t.ID, t.NodeID)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete TASK_ID",
	Short: "Delete a task that is not RUNNING",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		t, err := newClient(cmd).DeleteTask(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task deleted: %s\n", t.ID)
		return nil
	},
}

var taskResultCmd = &cobra.Command{
	Use:   "result TASK_ID",
	Short: "Download a task's trained model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = args[0] + ".pth"
		}

		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		n, err := newClient(cmd).DownloadModel(ctx, args[0], f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
			return err
		}
		fmt.Printf("✓ Model written: %s (%d bytes)\n", out, n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{taskListCmd, taskSubmitCmd, taskGetCmd, taskStatusCmd, taskReassignCmd, taskDeleteCmd, taskResultCmd} {
		addAPIFlag(c)
		taskCmd.AddCommand(c)
	}
	taskListCmd.Flags().String("consumer", "", "Only list tasks of this consumer ID")

	taskSubmitCmd.Flags().String("consumer", "", "Consumer user ID (required)")
	taskSubmitCmd.Flags().String("model", "", "Model definition file (required)")
	taskSubmitCmd.Flags().String("dataset", "", "Dataset file (required)")
	taskSubmitCmd.Flags().Int64("memory", 0, "Estimated GPU memory in MB (default: derived from dataset size)")
	for _, name := range []string{"consumer", "model", "dataset"} {
		_ = taskSubmitCmd.MarkFlagRequired(name)
	}

	taskResultCmd.Flags().StringP("out", "o", "", "Output file (default: TASK_ID.pth)")

	rootCmd.AddCommand(taskCmd)
}
