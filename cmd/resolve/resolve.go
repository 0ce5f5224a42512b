package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/lib/pq/oid"
	"github.com/pgplex/pgcustom/catalog"
	"github.com/pgplex/pgcustom/cmd/util"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentLookups bounds the catalog queries in flight at once.
const maxConcurrentLookups = 4

var (
	connFlags      util.ConnectionFlags
	searchPath     []string
	output         string
	withLabels     bool
	showSearchPath bool
)

var ResolveCmd = &cobra.Command{
	Use:   "resolve TYPE [TYPE...]",
	Short: "Resolve type names to OIDs",
	Long: `Resolve each TYPE to its OID and array OID.

TYPE is a SQL type reference: my_type, other.ty or "My Schema"."My Type".
Unqualified names resolve to the first schema on the search_path that defines
them. Use --search-path to override the server's default path.`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: util.PreRunEWithEnvVars(&connFlags),
	RunE:    runResolve,
}

func init() {
	connFlags.AddFlags(ResolveCmd)
	ResolveCmd.Flags().StringSliceVar(&searchPath, "search-path", nil, "Schemas to search for unqualified names, in order (default: server setting)")
	ResolveCmd.Flags().StringVar(&output, "output", "text", "Output format: text or json")
	ResolveCmd.Flags().BoolVar(&withLabels, "labels", false, "Include enum labels")
	ResolveCmd.Flags().BoolVar(&showSearchPath, "show-search-path", false, "Print the effective search path before the results")
}

// Result is one resolved type.
type Result struct {
	Type     string   `json:"type"`
	Schema   string   `json:"schema,omitempty"`
	Name     string   `json:"name"`
	OID      oid.Oid  `json:"oid"`
	ArrayOID oid.Oid  `json:"array_oid,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Report is the full command output.
type Report struct {
	SearchPath []string `json:"search_path,omitempty"`
	Types      []Result `json:"types"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	if output != "text" && output != "json" {
		return fmt.Errorf("unsupported output format %q (use text or json)", output)
	}

	descriptors, err := parseDescriptors(args)
	if err != nil {
		return err
	}

	config := connFlags.Config()
	config.SearchPath = searchPath

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := util.Connect(ctx, config)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := Run(ctx, db, catalog.NewCache(), descriptors, Options{
		Labels:     withLabels,
		SearchPath: showSearchPath,
	})
	if err != nil {
		return err
	}
	return Write(cmd.OutOrStdout(), report, output)
}

// Options selects the optional parts of a Report.
type Options struct {
	Labels     bool
	SearchPath bool
}

// Run resolves descriptors through cache on q. q must give every session the
// same search_path; lookups run concurrently.
func Run(ctx context.Context, q catalog.Querier, cache *catalog.Cache, descriptors []catalog.Descriptor, opts Options) (*Report, error) {
	report := &Report{Types: make([]Result, len(descriptors))}

	if opts.SearchPath {
		path, err := catalog.SearchPath(ctx, q)
		if err != nil {
			return nil, err
		}
		report.SearchPath = path
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, d := range descriptors {
		g.Go(func() error {
			m, err := cache.GetOrResolve(gctx, q, d)
			if err != nil {
				return err
			}
			result := Result{
				Type:     d.String(),
				Schema:   d.Schema,
				Name:     d.Name,
				OID:      m.OID,
				ArrayOID: m.ArrayOID,
			}
			if opts.Labels {
				labels, err := catalog.EnumLabels(gctx, q, m.OID)
				if err != nil {
					return err
				}
				result.Labels = labels
			}
			report.Types[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func parseDescriptors(args []string) ([]catalog.Descriptor, error) {
	descriptors := make([]catalog.Descriptor, 0, len(args))
	for _, arg := range args {
		d, err := catalog.ParseDescriptor(arg)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// Write renders report to w as text or json.
func Write(w io.Writer, report *Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if report.SearchPath != nil {
		fmt.Fprintf(w, "search_path: %s\n", strings.Join(report.SearchPath, ", "))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tOID\tARRAY OID\tLABELS")
	for _, r := range report.Types {
		arrayOID := "-"
		if r.ArrayOID != 0 {
			arrayOID = fmt.Sprint(r.ArrayOID)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Type, r.OID, arrayOID, strings.Join(r.Labels, ","))
	}
	return tw.Flush()
}
