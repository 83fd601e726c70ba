package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/output"
	"github.com/marcus/tracker/internal/service"
)

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Manage user accounts",
	GroupID: "admin",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user account",
	Long: `Create a user account. The password is prompted for when stdin is a
terminal and read from the first line of stdin otherwise.

The first account created becomes an administrator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		first, _ := cmd.Flags().GetString("first-name")
		last, _ := cmd.Flags().GetString("last-name")
		admin, _ := cmd.Flags().GetBool("admin")

		password, err := readPassword(os.Stdin, os.Stderr, true)
		if err != nil {
			return err
		}

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ctx := contextOrBackground(cmd)
		u, err := auth.New(database, 0).Register(ctx, auth.Registration{
			Username:  args[0],
			Email:     email,
			Password:  password,
			FirstName: first,
			LastName:  last,
		})
		if err != nil {
			printValidation(err)
			return err
		}
		if admin && !u.IsAdmin {
			if err := database.SetUserAdmin(ctx, u.Username, true); err != nil {
				return err
			}
			u.IsAdmin = true
		}

		output.Success("Created user %s (%s)", u.Username, u.ID)
		if u.IsAdmin {
			fmt.Println("  role: administrator")
		}
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Set a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(os.Stdin, os.Stderr, true)
		if err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := auth.New(database, 0).SetPassword(contextOrBackground(cmd), args[0], password); err != nil {
			printValidation(err)
			return err
		}
		output.Success("Password updated for %s", args[0])
		return nil
	},
}

var userAdminCmd = &cobra.Command{
	Use:   "admin <username>",
	Short: "Grant or revoke administrator rights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		revoke, _ := cmd.Flags().GetBool("revoke")

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := database.SetUserAdmin(contextOrBackground(cmd), args[0], !revoke); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				output.Error("no user named %s", args[0])
			}
			return err
		}
		if revoke {
			output.Success("%s is no longer an administrator", args[0])
		} else {
			output.Success("%s is now an administrator", args[0])
		}
		return nil
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate <username>",
	Short: "Disable or re-enable an account",
	Long: `Disable an account. Disabled users cannot log in and their existing
tokens stop working. Use --reactivate to enable the account again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reactivate, _ := cmd.Flags().GetBool("reactivate")

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ctx := contextOrBackground(cmd)
		u, err := database.GetUserByUsername(ctx, args[0])
		if err != nil {
			output.Error("no user named %s", args[0])
			return err
		}
		if err := database.SetUserActive(ctx, u.ID, reactivate); err != nil {
			return err
		}
		if reactivate {
			output.Success("%s reactivated", u.Username)
		} else {
			output.Success("%s deactivated", u.Username)
		}
		return nil
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue an API token for a user",
	Long: `Issue a new bearer token for a user without a password login, for
scripts and integrations. The token is printed once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ctx := contextOrBackground(cmd)
		u, err := database.GetUserByUsername(ctx, args[0])
		if err != nil {
			output.Error("no user named %s", args[0])
			return err
		}
		token, err := auth.New(database, 0).IssueKey(ctx, u.ID)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userPasswdCmd, userAdminCmd, userDeactivateCmd, userTokenCmd)

	userCreateCmd.Flags().String("email", "", "Email address (required)")
	userCreateCmd.Flags().String("first-name", "", "First name")
	userCreateCmd.Flags().String("last-name", "", "Last name")
	userCreateCmd.Flags().Bool("admin", false, "Make the user an administrator")
	_ = userCreateCmd.MarkFlagRequired("email")

	userAdminCmd.Flags().Bool("revoke", false, "Revoke administrator rights instead of granting them")
	userDeactivateCmd.Flags().Bool("reactivate", false, "Enable the account instead of disabling it")
}

// readPassword prompts on a terminal, asking twice when confirm is set.
// Otherwise it reads one line from in.
func readPassword(in *os.File, prompt io.Writer, confirm bool) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return readPasswordLine(in)
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if !confirm {
		return string(first), nil
	}
	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

// readPasswordLine reads the first line of r without its line ending.
func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// printValidation lists the fields of a validation error, one per line.
func printValidation(err error) {
	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		output.Error("%v", err)
		return
	}
	for _, f := range verr.Fields {
		fmt.Fprintf(output.Stderr, "  %s %s\n", color.RedString(f.Field+":"), f.Message)
	}
}
