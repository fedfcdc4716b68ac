package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task",
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskTargetCmd = &cobra.Command{
	Use:   "target [task-id]",
	Short: "Assign the file the worker will edit",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskTarget,
}

var taskPlanCmd = &cobra.Command{
	Use:   "plan [task-id]",
	Short: "Generate (or show) the task's plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskPlan,
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve [task-id]",
	Short: "Approve the plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskApprove,
}

var taskStartCmd = &cobra.Command{
	Use:   "start [task-id]",
	Short: "Start the approved task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskPushCmd = &cobra.Command{
	Use:   "push [task-id]",
	Short: "Push the task's work branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskPush,
}

var taskPublishCmd = &cobra.Command{
	Use:   "publish [task-id]",
	Short: "Open the pull request for a pushed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskPublish,
}

var taskLogsCmd = &cobra.Command{
	Use:   "logs [task-id]",
	Short: "Show the task's execution log",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskLogs,
}

var taskDiffCmd = &cobra.Command{
	Use:   "diff [task-id]",
	Short: "Show the task's stored diff",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDiff,
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show the task's status transition history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskHistory,
}

var (
	taskRepo     string
	taskBranch   string
	taskPrompt   string
	taskStatus   string
	targetFile   string
	planForce    bool
	planShowOnly bool
	prTitle      string
	prBody       string
)

func init() {
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskTargetCmd, taskPlanCmd,
		taskApproveCmd, taskStartCmd, taskPushCmd, taskPublishCmd, taskLogsCmd, taskDiffCmd, taskHistoryCmd)

	taskCreateCmd.Flags().StringVar(&taskRepo, "repo", "", "Repository full name, owner/repo (required)")
	taskCreateCmd.Flags().StringVar(&taskBranch, "branch", "main", "Base branch")
	taskCreateCmd.Flags().StringVar(&taskPrompt, "prompt", "", "Edit instruction (required)")
	taskCreateCmd.MarkFlagRequired("repo")
	taskCreateCmd.MarkFlagRequired("prompt")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (QUEUED, PLAN_READY, APPROVED, RUNNING, ...)")

	taskTargetCmd.Flags().StringVar(&targetFile, "file", "", "Path of the file to edit (required)")
	taskTargetCmd.MarkFlagRequired("file")

	taskPlanCmd.Flags().BoolVar(&planForce, "force", false, "Regenerate even if a plan exists")
	taskPlanCmd.Flags().BoolVar(&planShowOnly, "show", false, "Show the stored plan without regenerating")

	taskPublishCmd.Flags().StringVar(&prTitle, "title", "", "Pull request title (default: generated)")
	taskPublishCmd.Flags().StringVar(&prBody, "body", "", "Pull request body (default: the task prompt)")
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"repo_full_name": taskRepo,
		"branch":         taskBranch,
		"prompt":         taskPrompt,
	}

	resp, err := apiPost("/tasks", body)
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Created task: %s\n", result["id"])
	fmt.Printf("Base commit: %s\n", result["base_commit_sha"])
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/tasks"
	if taskStatus != "" {
		url += "?status=" + taskStatus
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var tasks []map[string]interface{}
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPO\tSTATUS\tTARGET FILE")
	for _, t := range tasks {
		id := truncateID(t["id"].(string))
		repo := t["repo_full_name"].(string)
		status := t["status"].(string)
		target := ""
		if tf, ok := t["target_file"].(string); ok {
			target = truncate(tf, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, repo, status, target)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task["id"])
	fmt.Printf("Repo:        %s\n", task["repo_full_name"])
	fmt.Printf("Branch:      %s\n", task["branch"])
	fmt.Printf("Status:      %s\n", task["status"])
	if tf, ok := task["target_file"].(string); ok && tf != "" {
		fmt.Printf("Target:      %s\n", tf)
	}
	if wb, ok := task["work_branch"].(string); ok && wb != "" {
		fmt.Printf("Work branch: %s\n", wb)
	}
	if pr, ok := task["pr_url"].(string); ok && pr != "" {
		fmt.Printf("PR:          %s\n", pr)
	}
	fmt.Printf("Prompt:      %s\n", truncate(task["prompt"].(string), 200))
	fmt.Printf("Created:     %s\n", task["created_at"])
	fmt.Printf("Updated:     %s\n", task["updated_at"])
	return nil
}

func runTaskTarget(cmd *cobra.Command, args []string) error {
	body := map[string]string{"target_file": targetFile}
	if _, err := apiPost("/tasks/"+args[0]+"/target", body); err != nil {
		return err
	}
	fmt.Printf("Target file set: %s\n", targetFile)
	return nil
}

func runTaskPlan(cmd *cobra.Command, args []string) error {
	var resp []byte
	var err error

	if planShowOnly {
		resp, err = apiGet("/tasks/" + args[0] + "/plan")
	} else {
		resp, err = apiPost("/tasks/"+args[0]+"/plan", map[string]bool{"force": planForce})
	}
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if origin, ok := result["plan_origin"].(string); ok && origin != "" {
		fmt.Printf("Plan (by %s):\n\n", origin)
	}
	fmt.Println(result["plan_text"])
	return nil
}

func runTaskApprove(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/tasks/"+args[0]+"/approve", nil); err != nil {
		return err
	}
	fmt.Printf("Approved task %s\n", args[0])
	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/tasks/"+args[0]+"/start", nil); err != nil {
		return err
	}
	fmt.Printf("Started task %s\n", args[0])
	return nil
}

func runTaskPush(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/tasks/"+args[0]+"/push", nil); err != nil {
		return err
	}
	fmt.Printf("Pushing task %s\n", args[0])
	return nil
}

func runTaskPublish(cmd *cobra.Command, args []string) error {
	body := map[string]string{"title": prTitle, "body": prBody}
	resp, err := apiPost("/tasks/"+args[0]+"/publish", body)
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Pull request created: %s\n", task["pr_url"])
	return nil
}

func runTaskLogs(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/logs")
	if err != nil {
		return err
	}

	var result map[string]string
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Print(result["logs"])
	return nil
}

func runTaskDiff(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/diff")
	if err != nil {
		return err
	}

	var result map[string]string
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Print(result["diff"])
	return nil
}

func runTaskHistory(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/transitions")
	if err != nil {
		return err
	}

	var trs []map[string]interface{}
	if err := json.Unmarshal(resp, &trs); err != nil {
		return err
	}

	if len(trs) == 0 {
		fmt.Println("No transitions found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tFROM\tTO\tTRIGGER")
	for _, tr := range trs {
		from := ""
		if f, ok := tr["from"].(string); ok {
			from = f
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tr["created_at"], from, tr["to"], tr["trigger"])
	}
	w.Flush()
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
