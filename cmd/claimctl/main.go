// Command claimctl issues and inspects claim links offline. It reads CLAIM_SECRET from the
// environment or a .env file.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"crypify/internal/claimtoken"
	"crypify/internal/evm"
)

const usage = `usage:
  claimctl secret
  claimctl issue -email E -address A -purchase P -reward R [-ttl 24h]
  claimctl inspect TOKEN`

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdout, os.Getenv, time.Now); err != nil {
		fmt.Fprintln(os.Stderr, "claimctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, getenv func(string) string, now func() time.Time) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "secret":
		return newSecret(out)
	case "issue":
		codec, err := codecFromEnv(getenv)
		if err != nil {
			return err
		}
		return issue(codec, args[1:], out, now)
	case "inspect":
		codec, err := codecFromEnv(getenv)
		if err != nil {
			return err
		}
		if len(args) != 2 {
			return errors.New(usage)
		}
		return inspect(codec, args[1], out, now)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func newSecret(out io.Writer) error {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, hex.EncodeToString(buf[:]))
	return err
}

func codecFromEnv(getenv func(string) string) (*claimtoken.Codec, error) {
	secret := getenv("CLAIM_SECRET")
	if secret == "" {
		return nil, errors.New("CLAIM_SECRET is not set")
	}
	return claimtoken.New([]byte(secret))
}

func issue(codec *claimtoken.Codec, args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "buyer email")
	address := fs.String("address", "", "payout address")
	purchaseID := fs.String("purchase", "", "purchase id")
	reward := fs.String("reward", "", "reward in USD, e.g. 5.00")
	ttl := fs.Duration("ttl", 24*time.Hour, "link lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *purchaseID == "" || *reward == "" {
		return errors.New("-purchase and -reward are required")
	}
	amount, err := decimal.NewFromString(*reward)
	if err != nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid -reward %q", *reward)
	}
	if *address != "" {
		if _, err := evm.ParseAddress(*address); err != nil {
			return err
		}
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}
	token, err := codec.Encode(claimtoken.Payload{
		Email:       strings.TrimSpace(*email),
		UserAddress: strings.TrimSpace(*address),
		PurchaseID:  strings.TrimSpace(*purchaseID),
		RewardUSD:   amount.StringFixed(2),
		ExpiresAt:   now().Add(*ttl).UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

type inspection struct {
	claimtoken.Payload
	TokenHash string `json:"tokenHash"`
	Expired   bool   `json:"expired"`
	ExpiresIn string `json:"expiresIn,omitempty"`
}

func inspect(codec *claimtoken.Codec, token string, out io.Writer, now func() time.Time) error {
	p, err := codec.Decode(strings.TrimSpace(token))
	if err != nil {
		return err
	}
	res := inspection{Payload: p, TokenHash: claimtoken.Hash(strings.TrimSpace(token))}
	left := time.UnixMilli(p.ExpiresAt).Sub(now())
	if left < 0 {
		res.Expired = true
	} else {
		res.ExpiresIn = left.Round(time.Second).String()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
