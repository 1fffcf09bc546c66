package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/trustval/constraint"
	"github.com/georgepadayatti/trustval/process"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/source/online"
	"github.com/georgepadayatti/trustval/token"
	"github.com/georgepadayatti/trustval/validation"
)

// ValidateOptions contains options for the validate command.
type ValidateOptions struct {
	TrustAnchors   []string
	OtherCerts     []string
	CRLs           []string
	OCSPResponses  []string
	Policy         string
	Online         bool
	ValidationTime string
	JSON           bool
	Verbose        bool
	Metrics        bool
}

func newValidateCommand(a *app) *cobra.Command {
	var opts ValidateOptions

	cmd := &cobra.Command{
		Use:   "validate [flags] <certs.pem>...",
		Short: "Validate signing certificates against the trust anchors",
		Long: `Validate one signing certificate per file. The first certificate of each
file is the signing certificate; the others are treated as certificates
embedded in the signature.

The command exits with status 1 when any signature does not pass.`,
		Example: `  trustval validate --trust-anchors root.pem signer.pem
  trustval validate -c trustval.yaml --crl ca.crl --json signer.pem
  trustval validate --online --metrics --trust-anchors root.pem signer.pem`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyValidateFlags(cmd, a, &opts)
			reports, registry, err := a.validate(cmd, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				err = outputJSON(out, reports)
			} else {
				outputText(out, reports, opts.Verbose)
			}
			if err != nil {
				return err
			}
			if opts.Metrics && registry != nil {
				if err := outputMetrics(cmd.ErrOrStderr(), registry); err != nil {
					return err
				}
			}

			// Exit with non-zero code if any signature did not pass
			for _, r := range reports {
				if r.Indication() != constraint.Passed {
					osExit(1)
					return nil
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.TrustAnchors, "trust-anchors", nil, "trust anchor certificate files (PEM or DER)")
	f.StringSliceVar(&opts.OtherCerts, "certs", nil, "additional intermediate certificate files")
	f.StringSliceVar(&opts.CRLs, "crl", nil, "CRL files")
	f.StringSliceVar(&opts.OCSPResponses, "ocsp", nil, "DER encoded OCSP response files")
	f.StringVarP(&opts.Policy, "policy", "p", "", "validation policy file")
	f.BoolVar(&opts.Online, "online", false, "fetch issuers, CRLs and OCSP responses")
	f.StringVar(&opts.ValidationTime, "at", "", "validation time (RFC 3339)")
	f.BoolVar(&opts.JSON, "json", false, "output results in JSON format")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "show every check")
	f.BoolVar(&opts.Metrics, "metrics", false, "print fetch metrics to stderr (with --online)")
	return cmd
}

// applyValidateFlags overrides the configuration with the flags given on the
// command line.
func applyValidateFlags(cmd *cobra.Command, a *app, opts *ValidateOptions) {
	cfg := a.config.Validation
	f := cmd.Flags()
	if f.Changed("trust-anchors") {
		cfg.TrustAnchors = opts.TrustAnchors
	}
	if f.Changed("certs") {
		cfg.OtherCerts = opts.OtherCerts
	}
	if f.Changed("crl") {
		cfg.CRLs = opts.CRLs
	}
	if f.Changed("ocsp") {
		cfg.OCSPResponses = opts.OCSPResponses
	}
	if f.Changed("policy") {
		cfg.Policy = opts.Policy
	}
	if f.Changed("online") {
		cfg.Online = opts.Online
	}
	if f.Changed("at") {
		cfg.ValidationTime = opts.ValidationTime
	}
}

// validate builds the trust provider from the configuration, resolves the
// signatures of files and evaluates them. The returned registry holds the
// fetch metrics when online access is enabled.
func (a *app) validate(cmd *cobra.Command, files []string) ([]process.Report, *prometheus.Registry, error) {
	if err := a.config.Validate(); err != nil {
		return nil, nil, err
	}
	cfg := a.config.Validation

	anchors, err := cfg.LoadTrustAnchors()
	if err != nil {
		return nil, nil, err
	}
	others, err := cfg.LoadOtherCerts()
	if err != nil {
		return nil, nil, err
	}
	p, err := cfg.LoadPolicy()
	if err != nil {
		return nil, nil, err
	}
	crls, err := source.LoadCRLSource(cfg.CRLs)
	if err != nil {
		return nil, nil, err
	}
	ocsps, err := source.LoadOCSPSource(cfg.OCSPResponses)
	if err != nil {
		return nil, nil, err
	}

	crlSources := source.NewListRevocationSource(token.RevocationCRL, crls)
	ocspSources := source.NewListRevocationSource(token.RevocationOCSP, ocsps)
	provider := validation.TrustProvider{
		TrustAnchors: source.NewTrustedCertificateSource(anchors...),
		CRLSource:    crlSources,
		OCSPSource:   ocspSources,
	}
	if len(others) > 0 {
		provider.CertificateSources = append(provider.CertificateSources,
			source.NewCommonCertificateSource(source.TypeOther, others...))
	}

	var registry *prometheus.Registry
	if cfg.Online {
		registry = prometheus.NewRegistry()
		fc := a.config.Fetch.FetcherConfig()
		fc.Metrics = online.NewMetrics(registry)
		fetcher := online.NewFetcher(fc)
		provider.IssuerSource = online.NewAIASource(fetcher)
		crlSources.Add(online.NewCRLSource(fetcher))
		ocspSources.Add(online.NewOCSPSource(fetcher))
	}

	opts := []validation.Option{
		validation.WithLogger(a.logger),
		validation.WithConcurrency(cfg.Concurrency),
	}
	at, err := cfg.Time()
	if err != nil {
		return nil, nil, err
	}
	if !at.IsZero() {
		opts = append(opts, validation.WithValidationTime(at))
	}
	vctx, err := validation.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := vctx.Initialize(provider); err != nil {
		return nil, nil, err
	}

	sigs, err := loadSignatures(files)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("Validating signatures", "count", len(sigs), "anchors", len(anchors), "online", cfg.Online)

	reports, err := process.NewValidator(p, process.WithLogger(a.logger)).ValidateAll(cmd.Context(), vctx, sigs)
	if err != nil {
		return nil, nil, err
	}
	return reports, registry, nil
}

var errNoCertificate = errors.New("no certificate found")

// loadSignatures reads one signature per file, keeping the file order.
func loadSignatures(files []string) ([]validation.Signature, error) {
	sigs := make([]validation.Signature, len(files))
	var g errgroup.Group
	for i, file := range files {
		g.Go(func() error {
			certs, err := source.LoadCertificates(file)
			if err != nil {
				return err
			}
			if len(certs) == 0 {
				return fmt.Errorf("%s: %w", file, errNoCertificate)
			}
			sig := validation.NewSignatureData(certs[0].Encoded(), certs[0])
			sig.Certificates = source.NewCommonCertificateSource(source.TypeSignature, certs[1:]...)
			sigs[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sigs, nil
}

// ReportJSON is the JSON output for one signature.
type ReportJSON struct {
	process.Report
	Messages []string `json:"messages,omitempty"`
}

func outputJSON(w io.Writer, reports []process.Report) error {
	catalog := constraint.DefaultCatalog()
	out := make([]ReportJSON, 0, len(reports))
	for _, r := range reports {
		out = append(out, ReportJSON{Report: r, Messages: constraint.Describe(r.Result, catalog)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func outputText(w io.Writer, reports []process.Report, verbose bool) {
	catalog := constraint.DefaultCatalog()
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		c := r.Result.Conclusion
		fmt.Fprintf(w, "Signature %s\n", r.SignatureID)
		fmt.Fprintf(w, "  Status: %s\n", formatIndication(c.Indication, c.SubIndication))
		fmt.Fprintf(w, "  Policy: %s\n", r.Policy)
		fmt.Fprintf(w, "  Validation time: %s\n", r.ValidationTime.UTC().Format(time.RFC3339))
		if !r.BestSignatureTime.IsZero() {
			fmt.Fprintf(w, "  Best signature time: %s\n", r.BestSignatureTime.UTC().Format(time.RFC3339))
		}
		printMessages(w, "Errors", c.Errors, catalog)
		printMessages(w, "Warnings", c.Warnings, catalog)
		if verbose {
			printMessages(w, "Infos", c.Infos, catalog)
			fmt.Fprintln(w, "  Checks:")
			for _, line := range constraint.Describe(r.Result, catalog) {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
		for _, ts := range r.Timestamps {
			tc := ts.Result.Conclusion
			fmt.Fprintf(w, "  Timestamp %s: %s\n", ts.TokenID, formatIndication(tc.Indication, tc.SubIndication))
		}
		for _, rev := range r.Revocations {
			rc := rev.Result.Conclusion
			fmt.Fprintf(w, "  Revocation %s: %s\n", rev.TokenID, formatIndication(rc.Indication, rc.SubIndication))
		}
	}
}

func formatIndication(i constraint.Indication, sub constraint.SubIndication) string {
	if sub == "" {
		return string(i)
	}
	return string(i) + "/" + string(sub)
}

func printMessages(w io.Writer, title string, msgs []constraint.Message, catalog constraint.MessageCatalog) {
	if len(msgs) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, m := range msgs {
		text := catalog.Resolve(m.Tag)
		if m.Info != "" {
			text += " (" + m.Info + ")"
		}
		fmt.Fprintf(w, "    - %s\n", text)
	}
}

// outputMetrics prints the counters and histogram sample counts of reg, one
// sample per line.
func outputMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			sort.Strings(labels)
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s count=%d sum=%g\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
