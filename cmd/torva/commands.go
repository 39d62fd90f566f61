package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torva/torva/internal/api"
	"github.com/torva/torva/internal/config"
	"github.com/torva/torva/internal/kbimport"
	"github.com/torva/torva/internal/procedure"
	"github.com/torva/torva/internal/schema"
	"github.com/torva/torva/internal/storage"
)

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if reset && !confirm {
			printWarning("--reset drops every torva table and ALL data. Use --confirm to proceed.")
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		if reset {
			printStep("Dropping tables...")
			if err := store.DropAll(ctx); err != nil {
				store.Close()
				return err
			}
			store.Close()
			printStep("Recreating tables...")
			if store, err = openStore(ctx, cfg); err != nil {
				return err
			}
		}
		defer store.Close()

		versions, err := store.AppliedMigrations(ctx)
		if err != nil {
			return err
		}
		printSuccess("Schema up to date")
		printStatus("Driver", "%s", store.Dialect().Name())
		printStatus("Table prefix", "%s", store.Registry().Prefix())
		printStatus("Migrations", "%v", versions)
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("reset", false, "drop all tables before migrating")
	migrateCmd.Flags().Bool("confirm", false, "confirm --reset")
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the DDL for every table",
	Long: `Print the DDL for every table without touching a database.

Examples:
  torva schema
  torva schema --dialect postgres --prefix support_`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dialect, _ := cmd.Flags().GetString("dialect")
		prefix, _ := cmd.Flags().GetString("prefix")

		d, err := schema.DialectFor(dialect)
		if err != nil {
			return err
		}
		reg, err := storage.NewRegistry(prefix)
		if err != nil {
			return err
		}
		ddl, err := api.SchemaDDL(reg, d)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), ddl)
		return err
	},
}

func init() {
	schemaCmd.Flags().String("dialect", "sqlite", "SQL dialect: sqlite or postgres")
	schemaCmd.Flags().String("prefix", storage.DefaultTablePrefix, "table name prefix")
}

// --- rpc ---

var rpcCmd = &cobra.Command{
	Use:   "rpc <procedure> [input]",
	Short: "Call a procedure on the running server",
	Long: `Call a procedure on the running server and print the result as JSON.

Examples:
  torva rpc customer.all
  torva rpc customer.byId '{"id":"<uuid>","with":["conversations"]}'
  torva rpc message.delete '"<uuid>"'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("input is not valid JSON: %s", args[1])
			}
			input = json.RawMessage(args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		data, err := client.call(cmd.Context(), args[0], input)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	},
}

// --- customer ---

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Inspect or delete customers",
}

var customerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recently created customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		data, err := client.call(cmd.Context(), "customer.all", nil)
		if err != nil {
			return err
		}

		var customers []storage.Customer
		if err := json.Unmarshal(data, &customers); err != nil {
			return fmt.Errorf("decoding customers: %w", err)
		}
		if len(customers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No customers found.")
			return nil
		}
		for _, c := range customers {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s <%s>\n",
				colorize(colorCyan, shortID(c.ID)),
				c.CreatedAt.Format("2006-01-02 15:04"),
				c.Name,
				c.Email,
			)
		}
		return nil
	},
}

var customerShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one customer, optionally with related rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		with, _ := cmd.Flags().GetStringSlice("with")

		input, err := json.Marshal(procedure.ByIDInput{ID: args[0], With: with})
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		data, err := client.call(cmd.Context(), "customer.byId", input)
		if err != nil {
			return err
		}
		if string(data) == "null" {
			return fmt.Errorf("customer %s not found", args[0])
		}
		return printJSON(cmd.OutOrStdout(), data)
	},
}

var customerDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a customer and everything that depends on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := json.Marshal(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		data, err := client.call(cmd.Context(), "customer.delete", input)
		if err != nil {
			return err
		}

		var res procedure.DeleteResult
		if err := json.Unmarshal(data, &res); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
		if res.RowsAffected == 0 {
			printWarning("No customer with id %s", args[0])
			return nil
		}
		printSuccess("Deleted customer %s", res.ID)
		return nil
	},
}

func init() {
	customerShowCmd.Flags().StringSlice("with", nil, "relations to include, e.g. accounts,conversations")
	customerCmd.AddCommand(customerListCmd)
	customerCmd.AddCommand(customerShowCmd)
	customerCmd.AddCommand(customerDeleteCmd)
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge-base articles",
}

var kbImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import text, Markdown or PDF files as articles",
	Long: `Import text, Markdown or PDF files as knowledge-base articles.

Markdown headings become titles; other files are titled after their name.
Articles are stored as drafts unless --status says otherwise.

Examples:
  torva kb import --customer <uuid> faq.md
  torva kb import --customer <uuid> --category Billing --status published invoices.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		customer, _ := cmd.Flags().GetString("customer")
		category, _ := cmd.Flags().GetString("category")
		title, _ := cmd.Flags().GetString("title")
		status, _ := cmd.Flags().GetString("status")

		if customer == "" {
			return fmt.Errorf("--customer is required")
		}
		if title != "" && len(args) > 1 {
			return fmt.Errorf("--title applies to a single file")
		}
		if !storage.ArticleStatus(status).Valid() {
			return fmt.Errorf("invalid --status %q: want one of %s", status, strings.Join(storage.ArticleStatuses(), ", "))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		im := kbimport.New(store)
		var failed int
		for _, path := range args {
			kb, err := im.Import(ctx, kbimport.Request{
				Path:       path,
				CustomerID: customer,
				Category:   category,
				Title:      title,
				Status:     storage.ArticleStatus(status),
			})
			if err != nil {
				printError("%s: %v", path, err)
				failed++
				continue
			}
			printSuccess("Imported %s as %q (%s)", path, kb.Title, kb.ID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed to import", failed, len(args))
		}
		return nil
	},
}

func init() {
	kbImportCmd.Flags().String("customer", "", "id of the customer owning the articles")
	kbImportCmd.Flags().String("category", "", "category name (must exist)")
	kbImportCmd.Flags().String("title", "", "article title (single file only)")
	kbImportCmd.Flags().String("status", string(storage.ArticleDraft), "article status")
	kbCmd.AddCommand(kbImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", ") +
		".\nSecret keys are written to the secrets file instead of the config file.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
