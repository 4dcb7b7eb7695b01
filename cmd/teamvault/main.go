package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/roles"
)

var rootCmd = &cobra.Command{
	Use:   "teamvault",
	Short: "TeamVault CLI",
	Long:  "A CLI for the TeamVault team secrets service.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(statusCmd())
}

// --- setup ---

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup <email>",
		Short: "Register the first (owner) account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			firstName, _ := cmd.Flags().GetString("first-name")
			lastName, _ := cmd.Flags().GetString("last-name")
			password := promptPassword()
			client := newClient()
			result, err := client.post("/v1/users/register-first-user", map[string]any{
				"email":      args[0],
				"password":   password,
				"first_name": firstName,
				"last_name":  lastName,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Owner account created. Log in with `teamvault auth login`.")
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
			}
			return nil
		},
	}
	cmd.Flags().String("first-name", "", "First name")
	cmd.Flags().String("last-name", "", "Last name")
	return cmd
}

// --- auth ---

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Session commands"}

	loginCmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := promptPassword()
			client := newClient()
			result, err := client.post("/v1/auth/login", map[string]any{
				"email":    args[0],
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if auth, ok := result["auth"].(map[string]any); ok {
				if tok, ok := auth["token"].(string); ok {
					cfg.Token = tok
					if err := saveConfig(); err == nil {
						fmt.Fprintln(os.Stderr, "Token saved to config.")
					}
				}
				if user, ok := auth["user"].(map[string]any); ok {
					printResult(user)
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/auth/logout", nil); err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Token = ""
			saveConfig() //nolint:errcheck
			printSuccess("Logged out.")
			return nil
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/auth/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	return cmd
}

// --- team ---

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Team directory commands"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List visible team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/users/team")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result, "email", "role_name", "role_level", "id")
			return nil
		},
	}

	inviteCmd := &cobra.Command{
		Use:   "invite <email>",
		Short: "Invite a new team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			firstName, _ := cmd.Flags().GetString("first-name")
			lastName, _ := cmd.Flags().GetString("last-name")
			roleLevel, err := parseRole(role)
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/users/invite", map[string]any{
				"email":      args[0],
				"role_level": roleLevel,
				"first_name": firstName,
				"last_name":  lastName,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if mailed, ok := result["mail_sent"].(bool); ok && !mailed {
				fmt.Fprintln(os.Stderr, "Warning: invite created but mail was not sent.")
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
			}
			return nil
		},
	}
	inviteCmd.Flags().String("role", "1", "Role for the invitee, as a level or name (1=Intern ... 6=Exec)")
	inviteCmd.Flags().String("first-name", "", "First name")
	inviteCmd.Flags().String("last-name", "", "Last name")

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List your outstanding invitations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/users/pending-invites")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result, "email", "role_name", "invitation_expires_at")
			return nil
		},
	}

	acceptCmd := &cobra.Command{
		Use:   "accept <token>",
		Short: "Accept an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := promptPassword()
			client := newClient()
			result, err := client.post("/v1/users/accept-invite", map[string]any{
				"token":    args[0],
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Invitation accepted. Log in with `teamvault auth login`.")
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
			}
			return nil
		},
	}

	rolesCmd := &cobra.Command{
		Use:   "roles",
		Short: "List the roles you may assign",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/users/roles")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result, "level", "name", "description")
			return nil
		},
	}

	promoteCmd := &cobra.Command{
		Use:   "set-role <user-id> <role>",
		Short: "Change a member's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseRole(args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.patch("/v1/users/team/"+args[0], map[string]any{
				"role_level": level,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
			}
			return nil
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <user-id>",
		Short: "Deactivate a team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/users/team/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! User deactivated.")
			return nil
		},
	}

	cmd.AddCommand(listCmd, inviteCmd, pendingCmd, acceptCmd, rolesCmd, promoteCmd, deactivateCmd)
	return cmd
}

// --- secret ---

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Secret store commands"}

	// The CLI transports payloads verbatim: callers encrypt before handing
	// data in, the server adds its own layer on top.
	putCmd := &cobra.Command{
		Use:   "put <title> <file>",
		Short: "Store an encrypted payload from a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			isPassword, _ := cmd.Flags().GetBool("password")
			payload, err := os.ReadFile(args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/secrets", map[string]any{
				"title":          args[0],
				"description":    description,
				"encrypted_data": base64.StdEncoding.EncodeToString(payload),
				"is_password":    isPassword,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
			}
			return nil
		},
	}
	putCmd.Flags().String("description", "", "Secret description")
	putCmd.Flags().Bool("password", false, "Mark the secret as a password entry")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accessible secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			owned, _ := cmd.Flags().GetBool("owned")
			path := "/v1/secrets"
			if owned {
				path += "?scope=owned"
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printDataList(result, "id", "title", "share_mode", "owner_id")
			return nil
		},
	}
	listCmd.Flags().Bool("owned", false, "List only secrets you own")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/secrets/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Secret deleted.")
			return nil
		},
	}

	shareCmd := &cobra.Command{
		Use:   "share <id>",
		Short: "Replace the share state of a secret",
		Long: "Replace the full share state of a secret. Exactly one of\n" +
			"--private, --min-role or --with must be given; whatever was\n" +
			"configured before is replaced wholesale.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			private, _ := cmd.Flags().GetBool("private")
			minRole, _ := cmd.Flags().GetInt("min-role")
			with, _ := cmd.Flags().GetInt64Slice("with")
			explicit := cmd.Flags().Changed("with")

			body := map[string]any{}
			switch {
			case private:
				body["mode"] = "private"
			case minRole > 0:
				body["mode"] = "broadcast"
				body["min_role_level"] = minRole
			case explicit:
				body["mode"] = "explicit"
				body["grantee_ids"] = with
			default:
				printError("one of --private, --min-role or --with is required")
				return nil
			}

			client := newClient()
			if err := client.put("/v1/secrets/"+args[0]+"/share", body); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Share state replaced.")
			return nil
		},
	}
	shareCmd.Flags().Bool("private", false, "Make the secret private")
	shareCmd.Flags().Int("min-role", 0, "Broadcast to this role level and up")
	shareCmd.Flags().Int64Slice("with", nil, "Share with these user ids (empty revokes all)")

	sharesCmd := &cobra.Command{
		Use:   "shares <id>",
		Short: "Show the current share state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secrets/" + args[0] + "/share")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(putCmd, getCmd, listCmd, deleteCmd, shareCmd, sharesCmd)
	return cmd
}

// --- keygen ---

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a server encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Println(key)
			return nil
		},
	}
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/health")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// helpers

func promptPassword() string {
	fmt.Fprint(os.Stderr, "Password: ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// parseRole accepts either a numeric level or a role name like "Manager".
func parseRole(s string) (int, error) {
	if n, err := parseInt(s); err == nil {
		return n, nil
	}
	if n := roles.LevelOf(s); n != 0 {
		return n, nil
	}
	return 0, fmt.Errorf("unknown role %q: use a level 1-7 or a role name", s)
}
