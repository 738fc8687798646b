// Package client is the Go SDK for a recordchain ledgerd server.
//
// It wraps the /api/v1 HTTP surface: chain status and integrity checks,
// block queries, and medical-record upload and retrieval.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("RECORDCHAIN_TOKEN")),
//	    client.WithCacheTTL(5*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Uploading a record
//
// Upload stores the document in the server's content store and returns the
// sealed reference block:
//
//	res, err := c.Upload(ctx, client.UploadRequest{
//	    PatientID: "P1",
//	    FileType:  "Lab",
//	    Disease:   "Flu",
//	    Doctor:    "Dr. House",
//	    Filename:  "report.pdf",
//	    File:      pdfBytes,
//	})
//	fmt.Println(res.CID, res.Block.Index)
//
// # Checking integrity
//
// Verify asks the server to walk the whole chain:
//
//	v, err := c.Verify(ctx)
//	if err == nil && !v.Valid {
//	    log.Printf("chain broken at block %d: %s", v.FirstInvalid, v.Error)
//	}
//
// Record documents are immutable, so WithCacheTTL caches them by content
// identifier. Chain queries are never cached.
package client
