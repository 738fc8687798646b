package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jmerrifield20/recordchain/internal/auth"
	"github.com/jmerrifield20/recordchain/internal/backend"
	"github.com/jmerrifield20/recordchain/internal/config"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"github.com/jmerrifield20/recordchain/internal/records"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool

	v      *viper.Viper
	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "recordchain ledger CLI",
	Long: `ledger operates directly on a local recordchain ledger and content store.

It reads the same configuration as ledgerd (configs/ledgerd.yaml, ./ledgerd.yaml,
or RECORDCHAIN_* environment variables). Do not point it at a file or bolt
ledger that a running ledgerd owns.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New("ledgerd")
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}
		if _, err := config.Read(v); err != nil {
			return err
		}
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/ledgerd.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log ledger and store activity to stderr")

	rootCmd.AddCommand(appendCmd, tailCmd, findCmd, verifyCmd, showCmd, uploadCmd, fetchCmd, recordsCmd, tokenCmd, versionCmd)
}

// withBackends opens the configured ledger and store for the duration of fn.
func withBackends(ctx context.Context, fn func(b *backend.Backends) error) error {
	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck
	return fn(b)
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendFields []string
	appendJSON   string
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Seal a new block carrying the given record",
	Long: `append builds a record from --field key=value pairs (values are strings)
and/or a --json object (values may be strings, numbers, or booleans), seals a
block at the configured difficulty, and persists it.

  ledger append --field patient_id=P1 --field disease=Flu
  ledger append --json '{"patient_id":"P1","visits":3}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := buildRecord(appendFields, appendJSON)
		if err != nil {
			return err
		}
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Sealing block at difficulty %d...", b.Ledger.Difficulty()))
			block, err := b.Ledger.Append(cmd.Context(), rec)
			if err != nil {
				if spinner != nil {
					spinner.Fail("append failed")
				}
				return err
			}
			if spinner != nil {
				spinner.Success(fmt.Sprintf("Block %d sealed (nonce %d)", block.Index, block.Nonce))
			}
			printBlock(block)
			return nil
		})
	},
}

func init() {
	appendCmd.Flags().StringArrayVar(&appendFields, "field", nil, "record field as key=value (repeatable)")
	appendCmd.Flags().StringVar(&appendJSON, "json", "", "record as a flat JSON object")
}

// buildRecord merges --json and --field input; fields win on conflict.
func buildRecord(fields []string, rawJSON string) (ledger.Record, error) {
	rec := ledger.Record{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &rec); err != nil {
			return nil, fmt.Errorf("--json: %w", err)
		}
		if rec == nil { // --json null
			rec = ledger.Record{}
		}
	}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--field %q: want key=value", f)
		}
		rec[key] = value
	}
	if len(rec) == 0 {
		return nil, errors.New("record is empty: pass --field or --json")
	}
	return rec, nil
}

// ── tail ─────────────────────────────────────────────────────────────────────

var tailN int

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			blocks, err := b.Ledger.Tail(tailN)
			if err != nil {
				return err
			}
			return printBlockTable(blocks)
		})
	},
}

func init() {
	tailCmd.Flags().IntVarP(&tailN, "lines", "n", 10, "number of blocks")
}

// ── find ─────────────────────────────────────────────────────────────────────

var (
	findField string
	findValue string
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "List blocks whose record field equals a value",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			blocks, err := b.Ledger.FindBy(ledger.FieldEquals(findField, findValue))
			if err != nil {
				return err
			}
			if len(blocks) == 0 {
				pterm.Info.Printfln("no blocks with %s=%s", findField, findValue)
				return nil
			}
			return printBlockTable(blocks)
		})
	},
}

func init() {
	findCmd.Flags().StringVar(&findField, "field", records.FieldPatientID, "record field to match")
	findCmd.Flags().StringVar(&findValue, "value", "", "value to match")
	_ = findCmd.MarkFlagRequired("value")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the chain and check hashes and linkage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			err := b.Ledger.Validate()
			var invalid *ledger.ChainInvalidError
			switch {
			case err == nil:
				tip, _ := b.Ledger.Tip()
				pterm.Success.Printfln("chain valid: %d blocks, tip %s", b.Ledger.Len(), tip)
				return nil
			case errors.As(err, &invalid):
				pterm.Error.Printfln("chain invalid at block %d: %s", invalid.Index, invalid.Reason)
				return err
			default:
				return err
			}
		})
	},
}

// ── show ─────────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <index>",
	Short: "Print a single block as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index %q: %w", args[0], err)
		}
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			block, err := b.Ledger.Get(idx)
			if err != nil {
				return err
			}
			return printJSON(block)
		})
	},
}

// ── upload ───────────────────────────────────────────────────────────────────

var uploadReq records.UploadRequest

var (
	uploadFile   string
	uploadClosed bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Store a medical record document and seal its reference block",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := uploadReq
		req.FileOpen = !uploadClosed
		if uploadFile != "" {
			data, err := os.ReadFile(uploadFile)
			if err != nil {
				return fmt.Errorf("read attachment: %w", err)
			}
			req.File = data
			req.Filename = filepath.Base(uploadFile)
		}
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			svc := records.NewService(b.Ledger, b.Store, logger)
			receipt, err := svc.Upload(cmd.Context(), req)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("record stored as %s", receipt.CID)
			printBlock(receipt.Block)
			return nil
		})
	},
}

func init() {
	f := uploadCmd.Flags()
	f.StringVar(&uploadReq.PatientID, "patient-id", "", "patient identifier")
	f.StringVar(&uploadReq.PatientName, "patient-name", "", "patient name")
	f.StringVar(&uploadReq.FileType, "file-type", "", "document type (e.g. Lab, Prescription)")
	f.StringVar(&uploadReq.Disease, "disease", "", "diagnosis")
	f.StringVar(&uploadReq.Doctor, "doctor", "", "responsible doctor")
	f.StringVar(&uploadReq.UploadedBy, "uploaded-by", "", "uploader identity")
	f.StringVar(&uploadReq.Description, "description", "", "free-text description")
	f.StringVar(&uploadReq.NextAppointment, "next-appointment", "", "next appointment date")
	f.BoolVar(&uploadClosed, "closed", false, "mark the file as closed")
	f.StringVar(&uploadFile, "file", "", "path of the attachment")
}

// ── fetch ────────────────────────────────────────────────────────────────────

var fetchOut string

var fetchCmd = &cobra.Command{
	Use:   "fetch <cid>",
	Short: "Retrieve a record document from the content store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			svc := records.NewService(b.Ledger, b.Store, logger)
			meta, err := svc.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if fetchOut == "" {
				shown := *meta
				shown.FileBase64, shown.ImageBase64 = "", ""
				return printJSON(shown)
			}
			file, err := records.DecodeAttachment(meta)
			if err != nil {
				return err
			}
			if err := os.WriteFile(fetchOut, file.Data, 0o644); err != nil {
				return fmt.Errorf("write attachment: %w", err)
			}
			pterm.Success.Printfln("wrote %s (%s, %d bytes)", fetchOut, file.MIMEType, len(file.Data))
			return nil
		})
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "write the decoded attachment to this path instead of printing metadata")
}

// ── records ──────────────────────────────────────────────────────────────────

var (
	recordsPatient string
	recordsN       int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List medical records with their stored metadata",
	Long: `records resolves reference blocks to their metadata documents. With
--patient-id it lists that patient's records; otherwise the most recent blocks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackends(cmd.Context(), func(b *backend.Backends) error {
			svc := records.NewService(b.Ledger, b.Store, logger)
			var (
				blocks []ledger.Block
				err    error
			)
			if recordsPatient != "" {
				blocks, err = svc.ByPatient(cmd.Context(), recordsPatient)
			} else {
				blocks, err = svc.Recent(cmd.Context(), recordsN)
			}
			if err != nil {
				return err
			}

			data := pterm.TableData{{"INDEX", "PATIENT", "TYPE", "DISEASE", "STATUS", "FILE", "UPLOADED"}}
			for _, blk := range blocks {
				meta, err := svc.Resolve(cmd.Context(), blk)
				if errors.Is(err, records.ErrNoReference) {
					continue
				}
				if err != nil {
					pterm.Warning.Printfln("block %d: %v", blk.Index, err)
					continue
				}
				data = append(data, []string{
					strconv.Itoa(blk.Index),
					meta.PatientID,
					meta.FileType,
					meta.Disease,
					meta.FileStatus,
					meta.Filename,
					meta.Timestamp,
				})
			}
			if len(data) == 1 {
				pterm.Info.Println("no records")
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsPatient, "patient-id", "", "only this patient's records")
	recordsCmd.Flags().IntVarP(&recordsN, "count", "n", 20, "number of recent blocks when no patient is given")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for ledgerd",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := auth.ParseRole(tokenRole)
		if err != nil {
			return err
		}
		cfg, err := config.Decode(v)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if cfg.Auth.Secret == "" {
			return errors.New("auth.secret is not configured")
		}
		tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		tok, err := tokens.Issue(tokenSubject, role)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (patient ID for patients)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleDoctor), "admin, doctor, or patient")
	_ = tokenCmd.MarkFlagRequired("subject")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledger version %s\n", version)
	},
}

// ── output ───────────────────────────────────────────────────────────────────

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBlock(b ledger.Block) {
	pterm.Printfln("  Index:    %d", b.Index)
	pterm.Printfln("  Hash:     %s", b.Hash)
	pterm.Printfln("  Previous: %s", b.PreviousHash)
	pterm.Printfln("  Data:     %s", summarize(b.Data))
}

func printBlockTable(blocks []ledger.Block) error {
	data := pterm.TableData{{"INDEX", "TIMESTAMP", "HASH", "DATA"}}
	for _, b := range blocks {
		data = append(data, []string{
			strconv.Itoa(b.Index),
			b.Timestamp,
			shortHash(b.Hash),
			summarize(b.Data),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// summarize renders a record as sorted key=value pairs.
func summarize(r ledger.Record) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, r[k])
	}
	return strings.Join(parts, " ")
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}
