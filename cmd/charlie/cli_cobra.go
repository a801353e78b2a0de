package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/charlievoice/charlie/pkg/assistant"
	"github.com/charlievoice/charlie/pkg/config"
	"github.com/charlievoice/charlie/pkg/logger"
	"github.com/charlievoice/charlie/pkg/memory"
	"github.com/charlievoice/charlie/pkg/providers"
	"github.com/charlievoice/charlie/pkg/tasks"
	"github.com/charlievoice/charlie/pkg/voice"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var (
		configPath  string
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "charlie",
		Short: "Voice-driven personal assistant with durable memory and a sandboxed task engine",
		Long: strings.TrimSpace(`charlie keeps a per-user memory of your conversations, assembles bounded
prompts for the language-model provider, and executes validated tasks
inside an isolated sandbox.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the JSON config file")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newTaskCommand(&configPath))
	root.AddCommand(newMemoryCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func loadAssistant(configPath string) (*assistant.Assistant, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	inner, err := providers.NewHTTPCompleter(cfg.Provider.APIBase, cfg.Provider.APIKey, cfg.Provider.Model,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("configure provider: %w", err)
	}
	completer := providers.NewRetryingCompleter(inner, cfg.Provider.MaxRetries, 0)

	a, err := assistant.New(cfg, completer, voice.MockTranscriber{}, voice.MockSynthesizer{})
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func newChatCommand(configPath *string) *cobra.Command {
	var (
		message string
		user    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant interactively or send a one-shot message",
		Example: strings.Join([]string{
			"  charlie chat",
			"  charlie chat --message \"remember that my favorite color is blue\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadAssistant(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if strings.TrimSpace(message) != "" {
				reply, err := a.SubmitTurn(cmd.Context(), user, message)
				if err != nil {
					return err
				}
				fmt.Printf("\n%s %s\n", appName, reply)
				return nil
			}

			fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
			return interactiveChat(cmd.Context(), a, user)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&user, "user", "u", "local-user", "User id for the memory namespace")
	return cmd
}

func interactiveChat(ctx context.Context, a *assistant.Assistant, user string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".charlie_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		reply, err := a.SubmitTurn(ctx, user, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, reply)
	}
}

func newTaskCommand(configPath *string) *cobra.Command {
	taskRoot := &cobra.Command{
		Use:   "task",
		Short: "Submit sandboxed tasks and check their status",
	}

	var (
		user     string
		taskType string
		params   []string
	)

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Validate and enqueue a task",
		Long:  "Submit a task to the queue. Parameters are passed as repeated key=value flags.",
		Example: strings.Join([]string{
			"  charlie task submit --type file_ops -p operation=create -p path=notes/todo.txt -p content=\"buy milk\"",
			"  charlie task submit --type script -p interpreter=python3 -p source=\"print('hi')\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(taskType) == "" {
				return fmt.Errorf("--type is required")
			}
			parsed := map[string]string{}
			for _, kv := range params {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("parameter %q is not key=value", kv)
				}
				parsed[k] = v
			}

			a, _, err := loadAssistant(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.SubmitTask(user, tasks.Type(taskType), parsed)
			if err != nil {
				return err
			}
			fmt.Printf("Task %s queued\n", id)
			return waitForTask(a, id)
		},
	}
	submit.Flags().StringVarP(&user, "user", "u", "local-user", "User id the task runs for")
	submit.Flags().StringVarP(&taskType, "type", "t", "", "Task type (file_ops, script, app_control, email, calendar)")
	submit.Flags().StringArrayVarP(&params, "param", "p", nil, "Task parameter as key=value (repeatable)")
	taskRoot.AddCommand(submit)

	status := &cobra.Command{
		Use:     "status <task_id>",
		Short:   "Show a task's current status and result",
		Args:    cobra.ExactArgs(1),
		Example: "  charlie task status task-abc123",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadAssistant(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			st, result, err := a.GetTaskStatus(args[0])
			if err != nil {
				return err
			}
			printTaskStatus(args[0], st, result)
			return nil
		},
	}
	taskRoot.AddCommand(status)

	return taskRoot
}

// waitForTask polls until the submitted task reaches a terminal status,
// so one-shot CLI submissions report their outcome before exiting.
func waitForTask(a *assistant.Assistant, id string) error {
	for {
		st, result, err := a.GetTaskStatus(id)
		if err != nil {
			return err
		}
		if st.Terminal() {
			printTaskStatus(id, st, result)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printTaskStatus(id string, st tasks.Status, result *tasks.Result) {
	fmt.Printf("%s: %s\n", id, st)
	if result == nil {
		return
	}
	if result.Output != "" {
		fmt.Printf("  Output: %s\n", strings.TrimSpace(result.Output))
	}
	if result.Error != "" {
		fmt.Printf("  Error: %s\n", result.Error)
	}
	if result.DurationMS > 0 {
		fmt.Printf("  Duration: %dms\n", result.DurationMS)
	}
}

func newMemoryCommand(configPath *string) *cobra.Command {
	memRoot := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage long-term memory",
	}

	var (
		user  string
		text  string
		tags  []string
		limit int
	)

	query := &cobra.Command{
		Use:   "query",
		Short: "List stored records, most relevant first",
		Example: strings.Join([]string{
			"  charlie memory query --user local-user",
			"  charlie memory query --text passport --tag temporal",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadAssistant(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.QueryMemory(cmd.Context(), user, memory.QueryFilter{
				Text:  text,
				Tags:  tags,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No records found")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s [%s] importance=%d tags=%s\n  %s\n",
					r.ID, r.Type, r.Importance, strings.Join(r.Tags, ","), r.Content)
			}
			return nil
		},
	}
	query.Flags().StringVarP(&user, "user", "u", "local-user", "User id to query")
	query.Flags().StringVar(&text, "text", "", "Substring filter on content")
	query.Flags().StringArrayVar(&tags, "tag", nil, "Tag filter (repeatable)")
	query.Flags().IntVar(&limit, "limit", 20, "Maximum records to return")
	memRoot.AddCommand(query)

	forget := &cobra.Command{
		Use:     "forget <record_id>",
		Short:   "Soft-delete one record so it stops surfacing in recall",
		Args:    cobra.ExactArgs(1),
		Example: "  charlie memory forget mem-abc123",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadAssistant(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ForgetMemory(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Record %s forgotten\n", args[0])
			return nil
		},
	}
	memRoot.AddCommand(forget)

	var confirm bool
	erase := &cobra.Command{
		Use:     "erase",
		Short:   "Permanently delete every record for a user",
		Example: "  charlie memory erase --user local-user --yes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to erase without --yes")
			}
			a, _, err := loadAssistant(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.EraseUserData(cmd.Context(), user)
			if err != nil {
				return err
			}
			fmt.Printf("Erased %d records for %s\n", n, user)
			return nil
		},
	}
	erase.Flags().StringVarP(&user, "user", "u", "local-user", "User id to erase")
	erase.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm the irreversible erase")
	memRoot.AddCommand(erase)

	return memRoot
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  charlie version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
