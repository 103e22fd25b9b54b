package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/kidsworld/internal/api"
	"github.com/kalambet/kidsworld/internal/config"
	"github.com/kalambet/kidsworld/internal/vocab"
)

// pollInterval is how often --wait checks a generation.
var pollInterval = time.Second

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// submit posts a generation request and, with --wait, follows it to the end.
func submit(cmd *cobra.Command, client *apiClient, resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	var sub api.SubmitResponse
	if err := decodeJSON(resp, &sub); err != nil {
		return err
	}
	printSuccess("Queued generation %s", sub.ID)

	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		return nil
	}
	g, err := waitForGeneration(cmd.Context(), client, sub.ID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), g.Result)
}

// waitForGeneration polls until the generation is done or failed, reporting
// each new stage.
func waitForGeneration(ctx context.Context, client *apiClient, id string) (*api.GenerationView, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastStage := ""
	for {
		resp, err := client.get(ctx, "/generations/"+url.PathEscape(id))
		if err != nil {
			return nil, err
		}
		var g api.GenerationView
		if err := decodeJSON(resp, &g); err != nil {
			return nil, err
		}

		switch g.Status {
		case "done":
			printSuccess("Generation %s finished", id)
			return &g, nil
		case "error":
			return nil, fmt.Errorf("generation %s failed: %s", id, g.Error)
		}
		if g.Stage != "" && g.Stage != lastStage {
			printStep("%s", strings.ReplaceAll(g.Stage, "_", " "))
			lastStage = g.Stage
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func addWaitFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("wait", false, "wait for the generation to finish and print its result")
}

// --- story ---

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Generate an illustrated, narrated story",
	Long: `Generate a five-part illustrated story with narration.

Examples:
  kidsworld story --interests "dinosaurs,space" --wait
  kidsworld story --language Spanish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interests, _ := cmd.Flags().GetString("interests")
		lang, _ := cmd.Flags().GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{"interests": splitList(interests)}
		if lang != "" {
			body["language"] = lang
		}
		resp, err := client.post(cmd.Context(), "/stories", body)
		return submit(cmd, client, resp, err)
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the health adviser a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{"question": strings.Join(args, " ")}
		if lang != "" {
			body["language"] = lang
		}
		resp, err := client.post(cmd.Context(), "/health", body)
		return submit(cmd, client, resp, err)
	},
}

// --- study ---

var studyCmd = &cobra.Command{
	Use:   "study <question>",
	Short: "Ask the study buddy, optionally about a PDF worksheet",
	Long: `Ask the study buddy a question.

Examples:
  kidsworld study "why is the sky blue" --subject science
  kidsworld study "help me with question 3" --worksheet ./fractions.pdf --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		lang, _ := cmd.Flags().GetString("language")
		worksheet, _ := cmd.Flags().GetString("worksheet")

		body := api.StudyBody{
			Question: strings.Join(args, " "),
			Subject:  subject,
			Language: lang,
		}
		if worksheet != "" {
			data, err := os.ReadFile(worksheet)
			if err != nil {
				return fmt.Errorf("reading worksheet: %w", err)
			}
			body.Worksheet = base64.StdEncoding.EncodeToString(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/study", body)
		return submit(cmd, client, resp, err)
	},
}

// --- adventure ---

var adventureCmd = &cobra.Command{
	Use:   "adventure",
	Short: "Place the child from a photo into an illustrated scene",
	RunE: func(cmd *cobra.Command, args []string) error {
		photo, _ := cmd.Flags().GetString("photo")
		theme, _ := cmd.Flags().GetString("theme")
		lang, _ := cmd.Flags().GetString("language")
		if photo == "" || theme == "" {
			return fmt.Errorf("--photo and --theme are required")
		}

		data, err := os.ReadFile(photo)
		if err != nil {
			return fmt.Errorf("reading photo: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.postFile(cmd.Context(), "/adventures", "photo", photo, http.DetectContentType(data), data,
			map[string]string{"theme": theme, "language": lang})
		return submit(cmd, client, resp, err)
	},
}

// --- mnemonic ---

var mnemonicCmd = &cobra.Command{
	Use:   "mnemonic <word> <word> <word>",
	Short: "Draw one picture that helps remember a few words",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{"words": args}
		if lang != "" {
			body["language"] = lang
		}
		resp, err := client.post(cmd.Context(), "/mnemonics", body)
		return submit(cmd, client, resp, err)
	},
}

func init() {
	storyCmd.Flags().String("interests", "", "comma-separated interests (default: profile interests)")
	adventureCmd.Flags().String("photo", "", "photo of the child (JPEG or PNG)")
	adventureCmd.Flags().String("theme", "", "adventure theme, e.g. \"pirate ship\"")
	studyCmd.Flags().String("subject", "", "school subject")
	studyCmd.Flags().String("worksheet", "", "PDF worksheet to read")

	for _, c := range []*cobra.Command{storyCmd, askCmd, studyCmd, adventureCmd, mnemonicCmd} {
		c.Flags().String("language", "", "answer language (default: profile language)")
		addWaitFlag(c)
	}
}

// --- vocab ---

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Manage saved vocabulary pictures",
}

var vocabListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved word lists, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/vocab")
		if err != nil {
			return err
		}
		var items []vocab.Item
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			printWarning("No saved vocabulary")
			return nil
		}
		out := cmd.OutOrStdout()
		for _, it := range items {
			saved := time.UnixMilli(it.Timestamp).Format(time.DateTime)
			fmt.Fprintf(out, "%s  %s  %s\n", colorize(colorBold, it.ID), saved, strings.Join(it.Words, ", "))
		}
		return nil
	},
}

var vocabDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved word list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/vocab/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	vocabCmd.AddCommand(vocabListCmd)
	vocabCmd.AddCommand(vocabDeleteCmd)
}

// --- generations ---

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "Inspect generations",
}

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/generations?limit=%d", limit))
		if err != nil {
			return err
		}
		var gens []api.GenerationView
		if err := decodeJSON(resp, &gens); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, g := range gens {
			fmt.Fprintf(out, "%s  %-9s  %-10s  %s\n", colorize(colorBold, g.ID), g.Kind, statusLabel(g.Status), g.CreatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var generationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a generation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")
		if wait {
			g, err := waitForGeneration(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		}

		resp, err := client.get(cmd.Context(), "/generations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var g api.GenerationView
		if err := decodeJSON(resp, &g); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), g)
	},
}

var generationsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Run a finished or failed generation again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/generations/"+url.PathEscape(args[0])+"/retry", nil)
		return submit(cmd, client, resp, err)
	},
}

var generationsAudioCmd = &cobra.Command{
	Use:   "audio <id> <part>",
	Short: "Save the narration of one story part as a WAV file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fmt.Sprintf("%s-part%s.wav", args[0], args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/generations/%s/parts/%s/audio.wav", url.PathEscape(args[0]), url.PathEscape(args[1]))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return responseError(resp)
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", output, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		printSuccess("Saved %s", output)
		return nil
	},
}

func statusLabel(status string) string {
	switch status {
	case "done":
		return colorize(colorGreen, status)
	case "error":
		return colorize(colorRed, status)
	default:
		return colorize(colorYellow, status)
	}
}

func init() {
	generationsListCmd.Flags().Int("limit", 20, "maximum generations to list")
	generationsShowCmd.Flags().Bool("wait", false, "wait until the generation finishes")
	addWaitFlag(generationsRetryCmd)
	generationsAudioCmd.Flags().StringP("output", "o", "", "output file (default: <id>-part<n>.wav)")

	generationsCmd.AddCommand(generationsListCmd)
	generationsCmd.AddCommand(generationsShowCmd)
	generationsCmd.AddCommand(generationsRetryCmd)
	generationsCmd.AddCommand(generationsAudioCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the learner profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the learner profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field (name, age, language, interests)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		var v any = value
		if key == "interests" {
			v = splitList(value)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/profile", map[string]any{key: v})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
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
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
