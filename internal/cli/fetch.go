package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/neonfeed/pkg/api"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// errRequestFailed is returned after a failed request has been reported.
var errRequestFailed = errors.New("request failed")

// fetchCommand creates the fetch command.
func (c *CLI) fetchCommand() *cobra.Command {
	var (
		noCache bool
		method  string
		data    string
		headers map[string]string
		repeat  int
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a JSON API endpoint with caching and retries",
		Long: `Fetch requests URL, relative to the configured origin, and prints the
decoded JSON. Transient failures are retried with exponential backoff.
Successful responses are cached; --repeat shows later requests being
served from the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repeat < 1 {
				return errs.New(errs.ErrCodeInvalidInput, "--repeat must be at least 1")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, store, err := c.newAPIClient(cfg, noCache, true)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := api.RequestOptions{Method: method, Headers: headers, Body: data}
			var resp api.Response
			for i := 0; i < repeat; i++ {
				start := time.Now()
				resp = client.FetchCached(cmd.Context(), args[0], opts, !noCache)
				if !resp.OK() {
					return errRequestFailed
				}
				printResponseStats(args[0], time.Since(start), resp.Cached)
			}
			return printJSON(c, resp)
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body, sent as JSON (part of the cache key)")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "request header as key=value (repeatable)")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of times to issue the request")
	return cmd
}

// postCommand creates the post command.
func (c *CLI) postCommand() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "post URL [FIELD=VALUE...]",
		Short: "Submit a multipart form to the API",
		Long: `Post sends FIELD=VALUE pairs as a multipart form to URL, relative to the
configured origin, and prints the JSON reply. Posts are never retried.
After a successful post, expired cache entries are cleared.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, store, err := c.newAPIClient(cfg, false, quiet)
			if err != nil {
				return err
			}
			defer store.Close()

			c.Logger.Debug("posting form", "url", args[0], "fields", fieldNames(fields))
			start := time.Now()
			resp := client.PostForm(cmd.Context(), args[0], fields, !quiet)
			if !resp.OK() {
				return errRequestFailed
			}
			printResponseStats(args[0], time.Since(start), false)
			return printJSON(c, resp)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show a loading indicator")
	return cmd
}

// parseFields parses FIELD=VALUE arguments. Later duplicates win.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, errs.New(errs.ErrCodeInvalidInput, "field %q is not in FIELD=VALUE form", arg)
		}
		if err := errs.ValidateFieldName(name); err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

// printJSON writes the response data as indented JSON.
func printJSON(c *CLI, resp api.Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(data))
	return nil
}

// fieldNames returns the sorted field names, for logging.
func fieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
