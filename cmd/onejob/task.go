package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new task on top of the stack",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active tasks in rank order",
	RunE:  runTaskList,
}

var taskDoneListCmd = &cobra.Command{
	Use:   "done-list",
	Short: "List completed tasks, most recent first",
	RunE:  runTaskDoneList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskEditCmd = &cobra.Command{
	Use:   "edit [task-id]",
	Short: "Edit a task's title or description",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEdit,
}

var taskRmCmd = &cobra.Command{
	Use:   "rm [task-id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRm,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete [task-id]",
	Short: "Mark an active task done",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("complete", "Completed"),
}

var taskDeferCmd = &cobra.Command{
	Use:   "defer [task-id]",
	Short: "Move an active task to the bottom of the stack",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("defer", "Deferred"),
}

var taskReactivateCmd = &cobra.Command{
	Use:   "reactivate [task-id]",
	Short: "Put a done task back on top of the stack",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("reactivate", "Reactivated"),
}

var taskAuditCmd = &cobra.Command{
	Use:   "audit [task-id]",
	Short: "Show the audit trail of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAudit,
}

var (
	taskTitle  string
	taskDesc   string
	auditLimit int
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskDoneListCmd, taskShowCmd, taskEditCmd, taskRmCmd,
		taskCompleteCmd, taskDeferCmd, taskReactivateCmd, taskAuditCmd)

	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.MarkFlagRequired("title")

	taskEditCmd.Flags().StringVar(&taskTitle, "title", "", "New title")
	taskEditCmd.Flags().StringVar(&taskDesc, "desc", "", "New description")

	taskAuditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum entries to show")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks", controlplane.CreateTaskInput{
		Title:       taskTitle,
		Description: taskDesc,
		Source:      "cli",
	})
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Created task %s at rank %d\n", task.ID, task.RankValue())
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	tasks, err := fetchTasks("active")
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("Nothing to do")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tTITLE\tDEFERRED")
	for _, t := range tasks {
		deferred := ""
		if t.DeferralCount > 0 {
			deferred = strconv.Itoa(t.DeferralCount)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.RankValue(), truncateID(t.ID), truncate(t.Title, 50), deferred)
	}
	w.Flush()
	return nil
}

func runTaskDoneList(cmd *cobra.Command, args []string) error {
	tasks, err := fetchTasks("done")
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No completed tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCOMPLETED")
	for _, t := range tasks {
		completed := ""
		if t.CompletedAt != nil {
			completed = t.CompletedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", truncateID(t.ID), truncate(t.Title, 50), completed)
	}
	w.Flush()
	return nil
}

func fetchTasks(state string) ([]models.Task, error) {
	resp, err := apiGet("/tasks?state=" + state)
	if err != nil {
		return nil, err
	}
	var tasks []models.Task
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	printTask(&task)

	resp, err = apiGet("/tasks/" + args[0] + "/substacks")
	if err != nil {
		return err
	}
	var stacks []models.SubStack
	if err := json.Unmarshal(resp, &stacks); err != nil {
		return err
	}
	for _, ss := range stacks {
		fmt.Printf("\n[%s] %s\n", ss.ID, ss.Name)
		for _, it := range ss.Items {
			box := " "
			if it.Completed {
				box = "x"
			}
			fmt.Printf("  [%s] %d. %s (%s)\n", box, it.Rank, it.Title, it.ID)
		}
	}
	return nil
}

func printTask(task *models.Task) {
	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Title:       %s\n", task.Title)
	if task.Description != "" {
		fmt.Printf("Description: %s\n", task.Description)
	}
	fmt.Printf("State:       %s\n", task.State)
	if task.Active() {
		fmt.Printf("Rank:        %d\n", task.RankValue())
	}
	fmt.Printf("Deferrals:   %d\n", task.DeferralCount)
	if task.DeferredAt != nil {
		fmt.Printf("Deferred:    %s\n", task.DeferredAt.Local().Format("2006-01-02 15:04:05"))
	}
	if task.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", task.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Created:     %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", task.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

func runTaskEdit(cmd *cobra.Command, args []string) error {
	var in controlplane.UpdateTaskInput
	if cmd.Flags().Changed("title") {
		in.Title = &taskTitle
	}
	if cmd.Flags().Changed("desc") {
		in.Description = &taskDesc
	}
	if in.Title == nil && in.Description == nil {
		return fmt.Errorf("nothing to change: pass --title or --desc")
	}

	resp, err := apiPatch("/tasks/"+args[0], in)
	if err != nil {
		return err
	}
	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}
	fmt.Printf("Updated task %s\n", task.ID)
	return nil
}

func runTaskRm(cmd *cobra.Command, args []string) error {
	if err := apiDelete("/tasks/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted task %s\n", args[0])
	return nil
}

func transitionCmd(op, verb string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := apiPost("/tasks/"+args[0]+"/"+op, nil)
		if err != nil {
			return err
		}
		var task models.Task
		if err := json.Unmarshal(resp, &task); err != nil {
			return err
		}
		if task.Active() {
			fmt.Printf("%s %s, now at rank %d\n", verb, task.Title, task.RankValue())
		} else {
			fmt.Printf("%s %s\n", verb, task.Title)
		}
		return nil
	}
}

func runTaskAudit(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(fmt.Sprintf("/tasks/%s/audit?limit=%d", args[0], auditLimit))
	if err != nil {
		return err
	}

	var entries []models.AuditEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Action, e.Outcome, truncate(e.Details, 60))
	}
	w.Flush()
	return nil
}

// --- Helpers ---

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// truncateID returns the short form printed by list commands; any unique
// prefix is accepted back by the API.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
