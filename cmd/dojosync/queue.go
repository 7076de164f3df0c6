package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued offline operations",
	RunE:  runQueue,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved sync conflicts",
	RunE:  runConflicts,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ops, err := eng.queue.All(context.Background())
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	fmt.Printf("%-38s %-24s %-12s %s\n", "ID", "TYPE", "STATUS", "CREATED")
	for _, op := range ops {
		created := time.Unix(op.CreatedAt, 0).Format(time.RFC3339)
		fmt.Printf("%-38s %-24s %-12s %s\n", op.ID, op.Type, op.Status, created)
		if op.Error != "" {
			fmt.Printf("    error: %s\n", op.Error)
		}
	}
	return nil
}

func runConflicts(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	conflicts, err := eng.detector.Unresolved(context.Background())
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("no unresolved conflicts")
		return nil
	}

	for _, c := range conflicts {
		detected := time.Unix(c.DetectedAt, 0).Format(time.RFC3339)
		fmt.Printf("%s  %s/%s  user=%s  detected=%s\n",
			c.ID, c.CommentType, c.CommentID, c.UserID, detected)
	}
	return nil
}
