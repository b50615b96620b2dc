package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var idPrinter = message.NewPrinter(language.Indonesian)

// formatNumber: 250000 -> "250.000"
func formatNumber(n int) string { return idPrinter.Sprintf("%d", n) }

func statusLabel(s string) string {
	switch s {
	case "pending":
		return "menunggu konfirmasi"
	case "confirmed":
		return "dikonfirmasi"
	case "processed":
		return "diproses"
	case "out-for-delivery":
		return "dalam pengiriman"
	case "delivered":
		return "sudah diterima"
	case "cancelled":
		return "dibatalkan"
	default:
		return s
	}
}

// FormatOrderAlert renders the HTML message sent to the operations chat for a new order.
func FormatOrderAlert(p OrderPlaced, who PushTarget, adminURL string) string {
	money := func(n int) string {
		if p.PaymentMethod == "points" {
			return formatNumber(n) + " poin"
		}
		return "Rp " + formatNumber(n)
	}
	name := who.Name
	if name == "" {
		name = "user #" + strconv.FormatInt(p.UserID, 10)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>PESANAN BARU %s</b>\n\n", html.EscapeString(p.OrderCode))
	fmt.Fprintf(&b, "Pelanggan: %s\n", html.EscapeString(name))
	if who.Phone != "" {
		fmt.Fprintf(&b, "No. HP: %s\n", html.EscapeString(who.Phone))
	}
	b.WriteString("\n<b>Item:</b>\n")
	for i, l := range p.Lines {
		fmt.Fprintf(&b, "%d. %s x%d (%d %s) = %s\n",
			i+1, html.EscapeString(l.ProductName), l.Qty, l.Weight, html.EscapeString(l.Unit), money(l.LineTotal))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\n", money(p.Subtotal))
	fmt.Fprintf(&b, "Ongkir: %s\n", money(p.ShippingCost))
	fmt.Fprintf(&b, "<b>Total: %s</b>\n", money(p.GrandTotal))
	fmt.Fprintf(&b, "Pembayaran: %s\n", paymentLabel(p.PaymentMethod))
	if adminURL != "" {
		link := strings.TrimRight(adminURL, "/") + "/orders/" + strconv.FormatInt(p.OrderID, 10)
		fmt.Fprintf(&b, "\n<a href=\"%s\">Buka di admin</a>", html.EscapeString(link))
	}
	return b.String()
}

func paymentLabel(m string) string {
	switch m {
	case "cod":
		return "COD"
	case "points":
		return "Poin"
	default:
		return m
	}
}
