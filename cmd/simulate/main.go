package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "simulate",
		Short:         "Drive a running checkout-payments server through payment flows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", "http://localhost:8080", "base URL of the payments server")
	root.PersistentFlags().Duration("timeout", 15*time.Second, "HTTP timeout")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(
		newOrderCmd(v),
		newInitiateCmd(v),
		newMpesaCallbackCmd(v),
		newStripeEventCmd(v),
		newScenarioCmd(v),
	)
	return root
}

func newClient(v *viper.Viper) *apiClient {
	return newAPIClient(v.GetString("server"), v.GetDuration("timeout"))
}

func newOrderCmd(v *viper.Viper) *cobra.Command {
	var id, user string
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Create an unpaid order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, body, err := newClient(v).createOrder(cmd.Context(), id, user)
			if err != nil {
				return err
			}
			return printResponse(cmd, status, body)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "order id (generated when empty)")
	cmd.Flags().StringVar(&user, "user", "", "X-User-ID of the caller")
	return cmd
}

func newInitiateCmd(v *viper.Viper) *cobra.Command {
	var req initiateRequest
	var provider, user string
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Start a payment for an order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, body, err := newClient(v).initiate(cmd.Context(), provider, req, user)
			if err != nil {
				return err
			}
			return printResponse(cmd, status, body)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "mpesa", "mpesa or stripe")
	cmd.Flags().StringVar(&req.PayeeIdentifier, "payee", "", "phone number or card holder reference")
	cmd.Flags().StringVar(&req.Amount, "amount", "", "amount in major units")
	cmd.Flags().StringVar(&req.OrderID, "order", "", "order id")
	cmd.Flags().StringVar(&user, "user", "", "X-User-ID of the caller")
	_ = cmd.MarkFlagRequired("payee")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func newMpesaCallbackCmd(v *viper.Viper) *cobra.Command {
	var cb mpesaCallback
	var token string
	cmd := &cobra.Command{
		Use:   "mpesa-callback",
		Short: "Post an STK push result callback",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, body, err := newClient(v).sendMpesaCallback(cmd.Context(), cb, token)
			if err != nil {
				return err
			}
			return printResponse(cmd, status, body)
		},
	}
	cmd.Flags().StringVar(&cb.CheckoutRequestID, "checkout-id", "", "CheckoutRequestID returned by initiation")
	cmd.Flags().IntVar(&cb.ResultCode, "result-code", 0, "0 for success, anything else for failure")
	cmd.Flags().StringVar(&cb.ResultDesc, "desc", "", "ResultDesc (defaults by result code)")
	cmd.Flags().StringVar(&cb.Receipt, "receipt", "", "MpesaReceiptNumber (generated when empty)")
	cmd.Flags().StringVar(&cb.Amount, "amount", "", "settled Amount")
	cmd.Flags().StringVar(&token, "token", "", "callback token (MPESA_CALLBACK_TOKEN)")
	_ = v.BindPFlag("mpesa_callback_token", cmd.Flags().Lookup("token"))
	_ = cmd.MarkFlagRequired("checkout-id")
	cmd.PreRun = func(*cobra.Command, []string) {
		token = v.GetString("mpesa_callback_token")
	}
	return cmd
}

func newStripeEventCmd(v *viper.Viper) *cobra.Command {
	var ev stripeEvent
	var secret string
	cmd := &cobra.Command{
		Use:   "stripe-event",
		Short: "Post a signed Stripe webhook event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("a webhook secret is required (--secret or STRIPE_WEBHOOK_SECRET)")
			}
			status, body, err := newClient(v).sendStripeEvent(cmd.Context(), ev, secret)
			if err != nil {
				return err
			}
			return printResponse(cmd, status, body)
		},
	}
	cmd.Flags().StringVar(&ev.IntentID, "intent", "", "PaymentIntent id returned by initiation")
	cmd.Flags().StringVar(&ev.Type, "type", "payment_intent.succeeded", "event type")
	cmd.Flags().Int64Var(&ev.AmountReceived, "amount-received", 0, "amount_received in minor units")
	cmd.Flags().StringVar(&secret, "secret", "", "webhook signing secret (STRIPE_WEBHOOK_SECRET)")
	_ = v.BindPFlag("stripe_webhook_secret", cmd.Flags().Lookup("secret"))
	_ = cmd.MarkFlagRequired("intent")
	cmd.PreRun = func(*cobra.Command, []string) {
		secret = v.GetString("stripe_webhook_secret")
	}
	return cmd
}

func printResponse(cmd *cobra.Command, status int, body []byte) error {
	cmd.Printf("HTTP %d\n", status)
	if len(body) > 0 {
		cmd.Println(strings.TrimSpace(string(body)))
	}
	if status >= 400 {
		return fmt.Errorf("server answered %d", status)
	}
	return nil
}
