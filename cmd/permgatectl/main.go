package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	Token     string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string) (int, []byte, error) {
	req, err := http.NewRequest(method, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(w io.Writer, status int, body []byte) {
	if c.OutFormat == "json" {
		var buf bytes.Buffer
		if json.Indent(&buf, body, "", "  ") == nil {
			fmt.Fprintln(w, buf.String())
			return
		}
	}
	if len(body) > 0 {
		fmt.Fprintln(w, strings.TrimSpace(string(body)))
	} else {
		fmt.Fprintf(w, "status=%d\n", status)
	}
}

// get hace GET y falla con status != 2xx.
func (c *client) get(cmd *cobra.Command, path string) error {
	status, body, err := c.do(http.MethodGet, path)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s fallo: status=%d body=%s", path, status, string(body))
	}
	c.print(cmd.OutOrStdout(), status, body)
	return nil
}

func newRootCmd() *cobra.Command {
	cl := &client{
		BaseURL:   envOr("PERMGATE_URL", "http://localhost:8080"),
		Token:     envOr("PERMGATE_TOKEN", ""),
		OutFormat: envOr("PERMGATE_OUT", "text"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}

	root := &cobra.Command{
		Use:           "permgatectl",
		Short:         "CLI para consultar permgate (/v1)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cl.Token == "" {
				return fmt.Errorf("falta token (flag --token o env PERMGATE_TOKEN)")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cl.BaseURL, "url", cl.BaseURL, "URL base de permgate (env PERMGATE_URL)")
	root.PersistentFlags().StringVar(&cl.Token, "token", cl.Token, "Bearer token del usuario (env PERMGATE_TOKEN)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", cl.OutFormat, "Formato de salida: json|text")

	// me
	var wait bool
	meCmd := &cobra.Command{
		Use:   "me",
		Short: "Grants del usuario del token",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/permissions/me"
			if wait {
				path += "?wait=true"
			}
			return cl.get(cmd, path)
		},
	}
	meCmd.Flags().BoolVar(&wait, "wait", true, "Esperar a que termine la carga")

	// authorize
	var (
		azResource int64
		azAction   string
		azPath     string
	)
	authorizeCmd := &cobra.Command{
		Use:   "authorize",
		Short: "¿Puede el usuario realizar la acción sobre la opción (o ruta)?",
		RunE: func(cmd *cobra.Command, args []string) error {
			if azResource <= 0 && azPath == "" {
				return fmt.Errorf("--resource o --path es requerido")
			}
			q := url.Values{}
			if azResource > 0 {
				q.Set("resource", strconv.FormatInt(azResource, 10))
			}
			if azPath != "" {
				q.Set("path", azPath)
			}
			q.Set("action", azAction)
			return cl.get(cmd, "/v1/authorize?"+q.Encode())
		},
	}
	authorizeCmd.Flags().Int64Var(&azResource, "resource", 0, "Id de opción (0 = inferir desde --path)")
	authorizeCmd.Flags().StringVar(&azAction, "action", "view", "view|create|edit|delete|finalize")
	authorizeCmd.Flags().StringVar(&azPath, "path", "", "Ruta actual (ej. /cajas/15)")

	// resolve
	resolveCmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolver la opción correspondiente a una ruta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.get(cmd, "/v1/resolve?"+url.Values{"path": {args[0]}}.Encode())
		},
	}

	// gate
	var (
		gtRequired int64
		gtPath     string
		gtAction   string
	)
	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluar el guard de una vista hasta que se asiente",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"action": {gtAction}}
			if gtRequired > 0 {
				q.Set("required", strconv.FormatInt(gtRequired, 10))
			}
			if gtPath != "" {
				q.Set("path", gtPath)
			}
			return cl.get(cmd, "/v1/gate?"+q.Encode())
		},
	}
	gateCmd.Flags().Int64Var(&gtRequired, "required", 0, "Id de opción requerido")
	gateCmd.Flags().StringVar(&gtPath, "path", "", "Ruta para inferir la opción")
	gateCmd.Flags().StringVar(&gtAction, "action", "view", "Acción a evaluar")

	// catalog invalidate
	catalogCmd := &cobra.Command{Use: "catalog", Short: "Operaciones sobre el catálogo de opciones"}
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Descartar el catálogo cacheado (se recarga en el próximo uso)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do(http.MethodPost, "/v1/catalog/invalidate")
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("invalidate fallo: status=%d body=%s", status, string(body))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	catalogCmd.AddCommand(invalidateCmd)

	root.AddCommand(meCmd, authorizeCmd, resolveCmd, gateCmd, catalogCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
