package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/videoqueue-backend/internal/app"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// credit posts purchase or admin adjustment entries, and can print a bearer
// token for local testing.
func main() {
	var users idList
	var amount int
	var kind, reason, dedupe string
	var printToken bool
	flag.Var(&users, "user", "owner user id (repeatable)")
	flag.IntVar(&amount, "amount", 0, "units to post; negative only for admin_adjustment")
	flag.StringVar(&kind, "kind", domainledger.EntryPurchase, "purchase or admin_adjustment")
	flag.StringVar(&reason, "reason", "", "reason shown in ledger history")
	flag.StringVar(&dedupe, "dedupe", "", "idempotency key; suffixed with the user id")
	flag.BoolVar(&printToken, "token", false, "print an access token for each user")
	flag.Parse()

	if len(users) == 0 {
		fmt.Println("at least one -user is required")
		os.Exit(2)
	}

	ctx := context.Background()
	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	failed := 0
	for _, raw := range users {
		owner, err := uuid.Parse(raw)
		if err != nil || owner == uuid.Nil {
			fmt.Printf("skip %q: not a user id\n", raw)
			failed++
			continue
		}
		if amount != 0 {
			req := services.CreditRequest{OwnerUserID: owner, Amount: amount, Kind: kind, Reason: reason}
			if dedupe != "" {
				req.DedupeKey = dedupe + ":" + owner.String()
			}
			b, err := application.Services.Ledger.Credit(ctx, req)
			if err != nil {
				fmt.Printf("credit %s: %v\n", owner, err)
				failed++
				continue
			}
			fmt.Printf("%s balance=%d reserved=%d available=%d\n", owner, b.Balance, b.Reserved, b.Available)
		}
		if printToken {
			token, err := application.Services.Auth.IssueToken(owner)
			if err != nil {
				fmt.Printf("token %s: %v\n", owner, err)
				failed++
				continue
			}
			fmt.Printf("%s token=%s\n", owner, token)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
