package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage GitHub credentials",
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Store a GitHub access token for the acting principal",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthSetToken,
}

var (
	tokenType  string
	tokenScope string
)

func init() {
	authCmd.AddCommand(authSetTokenCmd)
	authCmd.AddCommand(reposCmd)
	authCmd.AddCommand(branchesCmd)

	authSetTokenCmd.Flags().StringVar(&tokenType, "type", "bearer", "Token type")
	authSetTokenCmd.Flags().StringVar(&tokenScope, "scope", "", "Token scope")
}

func runAuthSetToken(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"access_token": args[0],
		"token_type":   tokenType,
		"scope":        tokenScope,
	}
	if _, err := apiPost("/auth/token", body); err != nil {
		return err
	}
	fmt.Println("Token stored")
	return nil
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories visible to the stored token",
	RunE:  runRepos,
}

var branchesCmd = &cobra.Command{
	Use:   "branches [owner/repo]",
	Short: "List branches of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranches,
}

func runRepos(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/github/repos")
	if err != nil {
		return err
	}

	var repos []struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
		Private       bool   `json:"private"`
	}
	if err := json.Unmarshal(resp, &repos); err != nil {
		return err
	}

	for _, r := range repos {
		visibility := "public"
		if r.Private {
			visibility = "private"
		}
		fmt.Printf("%s\t%s\t%s\n", r.FullName, r.DefaultBranch, visibility)
	}
	return nil
}

func runBranches(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/github/repos/" + args[0] + "/branches")
	if err != nil {
		return err
	}

	var branches []string
	if err := json.Unmarshal(resp, &branches); err != nil {
		return err
	}

	for _, b := range branches {
		fmt.Println(b)
	}
	return nil
}
