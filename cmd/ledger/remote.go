package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmerrifield20/recordchain/pkg/client"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	serverToken string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running ledgerd instead of local storage",
	Long: `remote commands go through the ledgerd HTTP API, so they are safe to use
while the daemon owns the ledger.

  ledger remote status --server http://localhost:8080
  RECORDCHAIN_TOKEN=... ledger remote upload --patient-id P1 ...`,
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "ledgerd base URL")
	remoteCmd.PersistentFlags().StringVar(&serverToken, "token", "", "bearer token (default $RECORDCHAIN_TOKEN)")

	remoteCmd.AddCommand(remoteStatusCmd, remoteTailCmd, remoteFindCmd, remoteUploadCmd, remoteFetchCmd)
	rootCmd.AddCommand(remoteCmd)
}

func newClient() (*client.Client, error) {
	token := serverToken
	if token == "" {
		token = os.Getenv("RECORDCHAIN_TOKEN")
	}
	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(serverURL, opts...)
}

var remoteStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chain length and run a server-side integrity check",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ov, err := c.Overview(cmd.Context())
		if err != nil {
			return err
		}
		pterm.Info.Printfln("%d blocks at difficulty %d, tip %s", ov.Blocks, ov.Difficulty, ov.Tip)

		v, err := c.Verify(cmd.Context())
		if err != nil {
			return err
		}
		if !v.Valid {
			pterm.Error.Printfln("chain invalid at block %d: %s", v.FirstInvalid, v.Error)
			return errors.New("chain invalid")
		}
		pterm.Success.Println("chain valid")
		return nil
	},
}

var remoteTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		blocks, err := c.Tail(cmd.Context(), tailN)
		if err != nil {
			return err
		}
		return printRemoteBlocks(blocks)
	},
}

var remoteFindCmd = &cobra.Command{
	Use:   "find",
	Short: "List blocks whose record field equals a value",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		blocks, err := c.Search(cmd.Context(), findField, findValue)
		if err != nil {
			return err
		}
		return printRemoteBlocks(blocks)
	},
}

var remoteUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a medical record through ledgerd",
	RunE: func(cmd *cobra.Command, args []string) error {
		up := client.UploadRequest{
			PatientID:       uploadReq.PatientID,
			PatientName:     uploadReq.PatientName,
			FileType:        uploadReq.FileType,
			Disease:         uploadReq.Disease,
			Doctor:          uploadReq.Doctor,
			UploadedBy:      uploadReq.UploadedBy,
			Description:     uploadReq.Description,
			NextAppointment: uploadReq.NextAppointment,
			FileOpen:        !uploadClosed,
		}
		if uploadFile != "" {
			data, err := os.ReadFile(uploadFile)
			if err != nil {
				return fmt.Errorf("read attachment: %w", err)
			}
			up.File = data
			up.Filename = filepath.Base(uploadFile)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Upload(cmd.Context(), up)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("record stored as %s in block %d", res.CID, res.Block.Index)
		return nil
	},
}

var remoteFetchCmd = &cobra.Command{
	Use:   "fetch <cid>",
	Short: "Retrieve a record document or its attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if fetchOut == "" {
			rec, err := c.Record(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rec.FileBase64 = ""
			return printJSON(rec)
		}
		data, ctype, err := c.File(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := os.WriteFile(fetchOut, data, 0o644); err != nil {
			return fmt.Errorf("write attachment: %w", err)
		}
		pterm.Success.Printfln("wrote %s (%s, %d bytes)", fetchOut, ctype, len(data))
		return nil
	},
}

func init() {
	remoteTailCmd.Flags().IntVarP(&tailN, "lines", "n", 10, "number of blocks")
	remoteFindCmd.Flags().StringVar(&findField, "field", "patient_id", "record field to match")
	remoteFindCmd.Flags().StringVar(&findValue, "value", "", "value to match")
	_ = remoteFindCmd.MarkFlagRequired("value")
	remoteFetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "write the decoded attachment to this path")

	f := remoteUploadCmd.Flags()
	f.StringVar(&uploadReq.PatientID, "patient-id", "", "patient identifier")
	f.StringVar(&uploadReq.PatientName, "patient-name", "", "patient name")
	f.StringVar(&uploadReq.FileType, "file-type", "", "document type (e.g. Lab, Prescription)")
	f.StringVar(&uploadReq.Disease, "disease", "", "diagnosis")
	f.StringVar(&uploadReq.Doctor, "doctor", "", "responsible doctor")
	f.StringVar(&uploadReq.UploadedBy, "uploaded-by", "", "uploader identity (default: token subject)")
	f.StringVar(&uploadReq.Description, "description", "", "free-text description")
	f.StringVar(&uploadReq.NextAppointment, "next-appointment", "", "next appointment date")
	f.BoolVar(&uploadClosed, "closed", false, "mark the file as closed")
	f.StringVar(&uploadFile, "file", "", "path of the attachment")
}

func printRemoteBlocks(blocks []client.Block) error {
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
