package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List all projects",
	RunE:  runProjects,
}

var createUsers string

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createUsers, "users", "", "comma-separated member emails")
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(createCmd)
}

type projectView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Users     []string `json:"users"`
	CreatedAt string   `json:"created_at"`
}

func runProjects(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/projects")
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: devroom serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var projects []projectView
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tCREATED")
	for _, p := range projects {
		members := strings.Join(p.Users, ", ")
		if members == "" {
			members = "-"
		}
		if len(members) > 50 {
			members = members[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, members, p.CreatedAt)
	}
	return w.Flush()
}

func runCreate(cmd *cobra.Command, args []string) error {
	var users []string
	for _, u := range strings.Split(createUsers, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}

	payload, err := json.Marshal(map[string]any{
		"name":  args[0],
		"users": users,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(serverURL+"/api/projects", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: devroom serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var p projectView
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Project %q created.\nID: %s\n", p.Name, p.ID)
	return nil
}
