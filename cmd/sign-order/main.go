// sign-order generates a keypair (or loads one from PRIVATE_KEY), signs a
// sample placement, and prints the JSON body ready to POST to
// /api/v1/orders.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/azank1/zk2p/pkg/api"
	zcrypto "github.com/azank1/zk2p/pkg/crypto"
)

func main() {
	var signer *zcrypto.Signer
	var err error
	if keyHex := os.Getenv("PRIVATE_KEY"); keyHex != "" {
		signer, err = zcrypto.NewSignerFromHex(keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = zcrypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	owner := zcrypto.IdentityFromAddress(signer.Address())

	req := api.PlaceOrderRequest{
		Owner:         owner.Hex(),
		Side:          "ask",
		Type:          "limit",
		Price:         50,
		Quantity:      100,
		ClientOrderID: 1,
		PaymentMethod: "SEPA instant",
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Side: %s\n", req.Side)
	fmt.Printf("  Type: %s\n", req.Type)
	fmt.Printf("  Price: %d\n", req.Price)
	fmt.Printf("  Qty: %d\n", req.Quantity)
	fmt.Printf("  Payment: %s\n", req.PaymentMethod)
	fmt.Printf("  Owner: %s\n\n", req.Owner)

	digest := api.PlaceDigest(owner, req.Side, req.Type,
		req.Price, req.Quantity, req.ClientOrderID, req.PaymentMethod)
	sig, err := signer.Sign(digest)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	req.Signature = fmt.Sprintf("0x%x", sig)

	body, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("POST /api/v1/orders")
	fmt.Println(string(body))
}
