package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newScenarioCmd replays a batch of M-Pesa checkouts with a mix of
// successful, cancelled, duplicated and lost callbacks, then prints the
// resulting order states.
func newScenarioCmd(v *viper.Viper) *cobra.Command {
	var count int
	var payee string
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run a batch of mpesa checkouts with random callback outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client := newClient(v)
			token := v.GetString("mpesa_callback_token")

			cmd.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", count)
			for i := 0; i < count; i++ {
				status, body, err := client.createOrder(ctx, "", "")
				if err != nil || status >= 400 {
					cmd.Printf("[%d] create order failed: %v %s\n", i+1, err, body)
					continue
				}
				var order orderResponse
				if err := json.Unmarshal(body, &order); err != nil {
					return err
				}

				amount := fmt.Sprintf("%d", 10+rand.IntN(990))
				cmd.Printf("[%d] order %s amount %s ... ", i+1, order.ID, amount)
				status, body, err = client.initiate(ctx, "mpesa", initiateRequest{
					PayeeIdentifier: payee,
					Amount:          amount,
					OrderID:         order.ID,
				}, "")
				if err != nil || status >= 400 {
					cmd.Printf("INITIATION FAILED: %v %s\n", err, body)
					continue
				}
				var started initiateResponse
				if err := json.Unmarshal(body, &started); err != nil {
					return err
				}

				cb := mpesaCallback{CheckoutRequestID: started.CorrelationID, Amount: amount}
				deliveries := 1
				switch roll := rand.IntN(10); {
				case roll < 6:
					cmd.Printf("success")
				case roll < 8:
					cb.ResultCode = 1032
					cmd.Printf("cancelled")
				case roll < 9:
					deliveries = 3
					cmd.Printf("success (delivered 3 times)")
				default:
					deliveries = 0
					cmd.Printf("callback lost")
				}
				for d := 0; d < deliveries; d++ {
					if _, _, err := client.sendMpesaCallback(ctx, cb, token); err != nil {
						cmd.Printf(" [callback error: %v]", err)
					}
				}

				fresh, err := client.getOrder(ctx, order.ID)
				if err != nil {
					cmd.Printf(" -> %v\n", err)
					continue
				}
				cmd.Printf(" -> order status: %s\n", fresh.Status)
				time.Sleep(100 * time.Millisecond)
			}
			cmd.Println("lost callbacks stay pending until the reconciliation worker queries the provider")
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "number of checkouts")
	cmd.Flags().StringVar(&payee, "payee", "0712345678", "phone number to push to")
	return cmd
}
