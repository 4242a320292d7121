package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/models"
)

var substackCmd = &cobra.Command{
	Use:   "substack",
	Short: "Manage a task's substacks",
}

var substackAddCmd = &cobra.Command{
	Use:   "add [task-id] [name]",
	Short: "Attach a named substack to a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubstackAdd,
}

var substackListCmd = &cobra.Command{
	Use:   "list [task-id]",
	Short: "List a task's substacks and items",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubstackList,
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage substack items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add [substack-id]",
	Short: "Append an item to a substack",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemAdd,
}

var itemToggleCmd = &cobra.Command{
	Use:   "toggle [item-id]",
	Short: "Flip an item's completed flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemToggle,
}

var (
	itemTitle string
	itemDesc  string
)

func init() {
	substackCmd.AddCommand(substackAddCmd, substackListCmd)
	itemCmd.AddCommand(itemAddCmd, itemToggleCmd)

	itemAddCmd.Flags().StringVar(&itemTitle, "title", "", "Item title (required)")
	itemAddCmd.Flags().StringVar(&itemDesc, "desc", "", "Item description")
	itemAddCmd.MarkFlagRequired("title")
}

func runSubstackAdd(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/"+args[0]+"/substacks", map[string]string{"name": args[1]})
	if err != nil {
		return err
	}
	var ss models.SubStack
	if err := json.Unmarshal(resp, &ss); err != nil {
		return err
	}
	fmt.Printf("Created substack %s\n", ss.ID)
	return nil
}

func runSubstackList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/substacks")
	if err != nil {
		return err
	}
	var stacks []models.SubStack
	if err := json.Unmarshal(resp, &stacks); err != nil {
		return err
	}
	if len(stacks) == 0 {
		fmt.Println("No substacks")
		return nil
	}
	for _, ss := range stacks {
		fmt.Printf("%s  %s (%d items)\n", ss.ID, ss.Name, len(ss.Items))
		for _, it := range ss.Items {
			box := " "
			if it.Completed {
				box = "x"
			}
			fmt.Printf("  [%s] %d. %s  %s\n", box, it.Rank, it.Title, it.ID)
		}
	}
	return nil
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/substacks/"+args[0]+"/items", controlplane.AddItemInput{
		Title:       itemTitle,
		Description: itemDesc,
	})
	if err != nil {
		return err
	}
	var item models.SubStackItem
	if err := json.Unmarshal(resp, &item); err != nil {
		return err
	}
	fmt.Printf("Added item %s at rank %d\n", item.ID, item.Rank)
	return nil
}

func runItemToggle(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/items/"+args[0]+"/toggle", nil)
	if err != nil {
		return err
	}
	var item models.SubStackItem
	if err := json.Unmarshal(resp, &item); err != nil {
		return err
	}
	state := "open"
	if item.Completed {
		state = "completed"
	}
	fmt.Printf("Item %d. %s is now %s\n", item.Rank, item.Title, state)
	return nil
}
