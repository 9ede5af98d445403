package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/actions"
	"github.com/mschirtzinger/tasksync/internal/query"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/syncmgr"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "work",
	Short:   "List and change tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks matching the filters.

Online, the list comes from the server unless a fresh cached copy exists.
Offline, the cache is filtered the same way the server would and queued
writes are shown on top of it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter := filterFlags(cmd)
		refresh, _ := cmd.Flags().GetBool("refresh")

		sess, err := openSession(ctx, sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close()

		if refresh {
			sess.engine.Resolver().Invalidate(schema.CollectionTasks)
		}

		res, err := sess.engine.ResolveQuery(ctx, query.Key{Collection: schema.CollectionTasks, Filter: filter}, nil)
		if err != nil {
			return err
		}
		tasks, err := schema.DecodeAll[schema.Task](res.Records)
		if err != nil {
			return err
		}
		if structured() {
			return printStructured(tasks)
		}

		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			due := ""
			if t.DueAt != nil {
				due = t.DueAt.Local().Format("2006-01-02")
			}
			rows = append(rows, []string{
				t.ID,
				ui.Truncate(t.Title, 48),
				out.State(t.Status),
				"P" + strconv.Itoa(t.Priority),
				t.Assignee,
				due,
			})
		}
		out.Table([]string{"ID", "TITLE", "STATUS", "PRI", "ASSIGNEE", "DUE"}, rows, "No tasks")
		printProvenance(res)
		return nil
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Example: `  tsync task create "Write report" --project p-1 --due "next friday"
  tsync task create "Fix login" --priority 1 --assignee u-2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		project, _ := cmd.Flags().GetString("project")
		assignee, _ := cmd.Flags().GetString("assignee")
		priority, _ := cmd.Flags().GetInt("priority")
		dueText, _ := cmd.Flags().GetString("due")

		task := schema.Task{
			ID:          uuid.NewString(),
			Title:       strings.Join(args, " "),
			Description: description,
			ProjectID:   project,
			Assignee:    assignee,
			Priority:    priority,
		}
		if dueText != "" {
			due, err := parseDue(dueText, time.Now())
			if err != nil {
				return err
			}
			task.DueAt = &due
		}
		task.SetDefaults()

		return runMutation(cmd, &actions.CreateTask{Task: task}, "Created task "+task.ID)
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := taskPatchFromFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		m := &actions.UpdateTask{ID: args[0], Patch: patch, At: time.Now().UTC()}
		return runMutation(cmd, m, "Updated task "+args[0])
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := &actions.CompleteTask{ID: args[0], At: time.Now().UTC()}
		return runMutation(cmd, m, "Completed task "+args[0])
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(cmd, &actions.DeleteTask{ID: args[0]}, "Deleted task "+args[0])
	},
}

var timerCmd = &cobra.Command{
	Use:     "timer",
	GroupID: "work",
	Short:   "Track time on a task",
}

var timerStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start the timer on a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		user, _ := cmd.Flags().GetString("user")
		m := &actions.StartTimer{TaskID: args[0], ProjectID: project, UserID: user, At: time.Now().UTC()}
		return runMutation(cmd, m, "Timer started on "+args[0])
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop the timer on a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := &actions.StopTimer{TaskID: args[0], At: time.Now().UTC()}
		return runMutation(cmd, m, "Timer stopped on "+args[0])
	},
}

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "work",
	Short:   "Browse projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		status, _ := cmd.Flags().GetString("status")
		search, _ := cmd.Flags().GetString("search")

		sess, err := openSession(ctx, sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close()

		key := query.Key{
			Collection: schema.CollectionProjects,
			Filter:     schema.Filter{Status: status, Search: search},
		}
		res, err := sess.engine.ResolveQuery(ctx, key, nil)
		if err != nil {
			return err
		}
		projects, err := schema.DecodeAll[schema.Project](res.Records)
		if err != nil {
			return err
		}
		if structured() {
			return printStructured(projects)
		}

		rows := make([][]string, 0, len(projects))
		for _, p := range projects {
			rows = append(rows, []string{p.ID, ui.Truncate(p.Name, 40), p.Status, p.OwnerID})
		}
		out.Table([]string{"ID", "NAME", "STATUS", "OWNER"}, rows, "No projects")
		printProvenance(res)
		return nil
	},
}

// runMutation sends m through the engine and reports whether it reached
// the server or was queued.
func runMutation(cmd *cobra.Command, m actions.Mutation, done string) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := sess.engine.EnqueueOrExecute(ctx, m)
	if err != nil {
		return err
	}
	if structured() {
		return printStructured(mutationOutcome(m, res))
	}
	if res.Queued {
		fmt.Printf("%s %s (queued as #%d, syncs when online)\n", out.Styles().Warning.Render("⏸"), done, res.ActionID)
		return nil
	}
	fmt.Printf("%s %s\n", out.Styles().Success.Render("✓"), done)
	return nil
}

type outcome struct {
	Kind     actions.Kind `json:"kind" yaml:"kind"`
	Queued   bool         `json:"queued" yaml:"queued"`
	ActionID int64        `json:"action_id,omitempty" yaml:"action_id,omitempty"`
	Result   any          `json:"result,omitempty" yaml:"result,omitempty"`
}

func mutationOutcome(m actions.Mutation, res *syncmgr.Result) outcome {
	return outcome{Kind: m.Kind(), Queued: res.Queued, ActionID: res.ActionID, Result: res.Data}
}

func printProvenance(res *query.Result) {
	s := out.Styles()
	line := fmt.Sprintf("from %s, refreshed %s", res.Source, out.Since(res.LastRefreshedAt))
	if res.Provisional {
		line += ", includes unsynced changes"
	}
	fmt.Println(s.Muted.Render(line))
}

func filterFlags(cmd *cobra.Command) schema.Filter {
	status, _ := cmd.Flags().GetString("status")
	assignee, _ := cmd.Flags().GetString("assignee")
	project, _ := cmd.Flags().GetString("project")
	search, _ := cmd.Flags().GetString("search")
	return schema.Filter{Status: status, Assignee: assignee, ProjectID: project, Search: search}
}

// taskPatchFromFlags builds a patch from the flags the user set.
func taskPatchFromFlags(cmd *cobra.Command, now time.Time) (schema.TaskPatch, error) {
	var p schema.TaskPatch
	flags := cmd.Flags()

	if flags.Changed("title") {
		v, _ := flags.GetString("title")
		p.Title = &v
	}
	if flags.Changed("description") {
		v, _ := flags.GetString("description")
		p.Description = &v
	}
	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		p.Status = &v
	}
	if flags.Changed("priority") {
		v, _ := flags.GetInt("priority")
		p.Priority = &v
	}
	if flags.Changed("project") {
		v, _ := flags.GetString("project")
		p.ProjectID = &v
	}
	if flags.Changed("assignee") {
		v, _ := flags.GetString("assignee")
		p.Assignee = &v
	}
	if flags.Changed("due") {
		v, _ := flags.GetString("due")
		due, err := parseDue(v, now)
		if err != nil {
			return p, err
		}
		p.DueAt = &due
	}

	if p.IsEmpty() {
		return p, fmt.Errorf("nothing to update (set at least one of --title, --status, --priority, --assignee, --project, --due, --description)")
	}
	return p, p.Validate()
}

func init() {
	taskListCmd.Flags().String("status", "", "Filter by status ("+strings.Join(schema.TaskStatuses, ", ")+")")
	taskListCmd.Flags().String("assignee", "", "Filter by assignee")
	taskListCmd.Flags().String("project", "", "Filter by project")
	taskListCmd.Flags().StringP("search", "s", "", "Case-insensitive text search")
	taskListCmd.Flags().Bool("refresh", false, "Ignore the fresh cached copy")

	taskCreateCmd.Flags().StringP("description", "d", "", "Task description")
	taskCreateCmd.Flags().String("project", "", "Project ID")
	taskCreateCmd.Flags().String("assignee", "", "Assignee user ID")
	taskCreateCmd.Flags().IntP("priority", "p", 2, "Priority 0-4 (0 = critical)")
	taskCreateCmd.Flags().String("due", "", `Due date, e.g. 2026-05-01 or "next friday"`)

	taskUpdateCmd.Flags().String("title", "", "New title")
	taskUpdateCmd.Flags().StringP("description", "d", "", "New description")
	taskUpdateCmd.Flags().String("status", "", "New status")
	taskUpdateCmd.Flags().IntP("priority", "p", 2, "New priority 0-4")
	taskUpdateCmd.Flags().String("project", "", "New project ID")
	taskUpdateCmd.Flags().String("assignee", "", "New assignee")
	taskUpdateCmd.Flags().String("due", "", "New due date")

	timerStartCmd.Flags().String("project", "", "Project ID of the task")
	timerStartCmd.Flags().String("user", "", "User the time is tracked for")

	projectListCmd.Flags().String("status", "", "Filter by status (active, archived)")
	projectListCmd.Flags().StringP("search", "s", "", "Case-insensitive text search")

	taskCmd.AddCommand(taskListCmd, taskCreateCmd, taskUpdateCmd, taskDoneCmd, taskDeleteCmd)
	timerCmd.AddCommand(timerStartCmd, timerStopCmd)
	projectCmd.AddCommand(projectListCmd)
	rootCmd.AddCommand(taskCmd, timerCmd, projectCmd)
}
