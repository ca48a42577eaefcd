// Package client is the Go SDK for the carbon record integrity ledger.
//
// # Recording emissions
//
//	c, err := client.New("http://localhost:8080")
//	rec, err := c.CreateRecord(ctx, client.RecordInput{
//	    OrderID:            "ORD-1001",
//	    CarrierID:          "carrier-7",
//	    DistanceKm:         500,
//	    CargoWeightTonnes:  12,
//	    FuelConsumedLiters: 150,
//	    FuelType:           "DIESEL",
//	    TTWEmissionsGrams:  320000,
//	    WTTEmissionsGrams:  80000,
//	    EmissionIntensity:  66.7,
//	    Grade:              1,
//	    Source:             "TELEMATICS",
//	})
//
// # Signing and verification
//
// A carrier generates a signing key once; the private key in the response is
// never returned again. Records are then signed by id:
//
//	kp, _ := c.GenerateKeyPair(ctx, "carrier-7")
//	signed, _ := c.SignRecord(ctx, rec.ID)
//	res, _ := c.VerifyRecord(ctx, rec.ID)
//	chain, _ := c.VerifyChain(ctx, "carrier-7")
//
// # Carrier identity
//
// Endpoints under /carriers/me need a carrier bearer token, obtained with the
// ledger's admin secret:
//
//	admin, _ := client.New(base, client.WithAdminSecret(secret))
//	tok, _ := admin.IssueToken(ctx, "carrier-7")
//	carrier, _ := client.New(base, client.WithBearerToken(tok.AccessToken))
//	page, _ := carrier.MyRecords(ctx, 50, 0)
package client
