package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var comprehensive bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass and exit",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&comprehensive, "comprehensive", false,
		"also cache all referenced media and per-post detail")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := context.Background()

	if comprehensive {
		result := eng.orch.ComprehensiveCache(ctx)
		printResult(result.Operation, result.Success, result.ItemsProcessed, result.ItemsFailed, result.Error)
		if !result.Success {
			return fmt.Errorf("comprehensive cache failed: %s", result.Error)
		}
		return nil
	}

	failed := 0
	for _, result := range eng.orch.FullSync(ctx) {
		printResult(result.Operation, result.Success, result.ItemsProcessed, result.ItemsFailed, result.Error)
		if !result.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d sync pass(es) failed", failed)
	}
	return nil
}

func printResult(op interface{}, success bool, processed, failed int, errMsg string) {
	status := "ok"
	if !success {
		status = "failed"
	}
	fmt.Printf("%-22v %-8s processed=%d failed=%d", op, status, processed, failed)
	if errMsg != "" {
		fmt.Printf(" error=%q", errMsg)
	}
	fmt.Println()
}
