package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemantics/agentflow/internal/config"
	internal_http "github.com/schemantics/agentflow/internal/http"
	"github.com/schemantics/agentflow/internal/log"
	"github.com/schemantics/agentflow/internal/parser"
	internal_storage "github.com/schemantics/agentflow/internal/storage"
	"github.com/schemantics/agentflow/pkg/service"
)

// SetupCLI attaches the workflow commands to the root command.
func SetupCLI(rootCmd *cobra.Command) {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow from a definition file",
		Run: func(cmd *cobra.Command, args []string) {
			defFile, err := cmd.Flags().GetString("file")
			if err != nil || defFile == "" {
				fmt.Fprintln(os.Stderr, "Error: --file is required")
				os.Exit(1)
			}
			svc, store := initService(cmd)
			defer store.Close()

			def, err := parser.ParseFile(defFile)
			if err != nil {
				log.GetLogger().Errorf("Failed to parse definition: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			wf, err := svc.CreateWorkflow(def)
			if err != nil {
				log.GetLogger().Errorf("Failed to create workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Created workflow '%s' with ID %s (%d steps)\n", wf.Name, wf.ID, len(wf.Steps))
		},
	}
	createCmd.Flags().StringP("file", "f", "", "Workflow definition file (YAML or JSON)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := initService(cmd)
			defer store.Close()
			workflows, err := svc.ListWorkflows()
			if err != nil {
				log.GetLogger().Errorf("Failed to list workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(workflows) == 0 {
				fmt.Println("No workflows found.")
				return
			}
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Status: %s\n", wf.ID, wf.Name, wf.Status)
			}
		},
	}

	executeCmd := &cobra.Command{
		Use:   "execute [workflow-id]",
		Short: "Execute a workflow and print the result envelope",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := initService(cmd)
			defer store.Close()
			result, err := svc.ExecuteWorkflow(context.Background(), args[0])
			if err != nil {
				log.GetLogger().Errorf("Failed to execute workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintln(os.Stdout, string(encoded))
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show a workflow's status and step states",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, store := initService(cmd)
			defer store.Close()
			wf, err := svc.GetWorkflow(args[0])
			if err != nil {
				log.GetLogger().Errorf("Failed to get workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Workflow %s (%s): %s\n", wf.ID, wf.Name, wf.Status)
			for _, step := range wf.Steps {
				fmt.Fprintf(os.Stdout, "  - %s [%s]: %s (attempts: %d)\n", step.ID, step.AgentType, step.Status, step.Attempts)
			}
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			svc, store := initService(cmd)
			defer store.Close()
			if err := internal_http.StartServer(cfg.HTTPPort, svc); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}

	rootCmd.AddCommand(createCmd, listCmd, executeCmd, statusCmd, serveCmd)
}

func loadConfig() config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.GetLogger().Errorf("Failed to load config: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initService(cmd *cobra.Command) (*service.WorkflowService, *internal_storage.PostgresStore) {
	cfg := loadConfig()

	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	if dbConnStr == "" {
		dbConnStr = cfg.DatabaseURL
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		log.GetLogger().Errorf("Failed to build agent registry: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return service.NewWorkflowService(store, registry, cfg.ServiceConfig(), log.GetLogger()), store
}
