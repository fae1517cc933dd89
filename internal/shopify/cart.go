package shopify

import (
	"context"
	"strings"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
)

// Cart is a storefront cart. Checkout happens on Shopify at CheckoutURL.
type Cart struct {
	ID            string     `json:"id"`
	CheckoutURL   string     `json:"checkout_url"`
	TotalQuantity int        `json:"total_quantity"`
	Subtotal      float64    `json:"subtotal"`
	Total         float64    `json:"total"`
	Currency      string     `json:"currency,omitempty"`
	Lines         []CartLine `json:"lines"`
}

type CartLine struct {
	ID            string  `json:"id"`
	Quantity      int     `json:"quantity"`
	MerchandiseID string  `json:"merchandise_id"`
	VariantTitle  string  `json:"variant_title,omitempty"`
	ProductHandle string  `json:"product_handle,omitempty"`
	ProductTitle  string  `json:"product_title,omitempty"`
	Price         float64 `json:"price"`
	ImageURL      string  `json:"image_url,omitempty"`
}

// LineInput adds a variant to a cart.
type LineInput struct {
	MerchandiseID string `json:"merchandise_id"`
	Quantity      int    `json:"quantity"`
}

// LineUpdate sets the quantity of an existing line. Zero removes it.
type LineUpdate struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type cartNode struct {
	ID            string `json:"id"`
	CheckoutURL   string `json:"checkoutUrl"`
	TotalQuantity int    `json:"totalQuantity"`
	Cost          struct {
		SubtotalAmount money `json:"subtotalAmount"`
		TotalAmount    money `json:"totalAmount"`
	} `json:"cost"`
	Lines struct {
		Nodes []struct {
			ID          string `json:"id"`
			Quantity    int    `json:"quantity"`
			Merchandise struct {
				ID      string `json:"id"`
				Title   string `json:"title"`
				Price   money  `json:"price"`
				Image   *image `json:"image"`
				Product struct {
					Handle string `json:"handle"`
					Title  string `json:"title"`
				} `json:"product"`
			} `json:"merchandise"`
		} `json:"nodes"`
	} `json:"lines"`
}

func (n cartNode) toCart() Cart {
	c := Cart{
		ID:            n.ID,
		CheckoutURL:   n.CheckoutURL,
		TotalQuantity: n.TotalQuantity,
		Subtotal:      n.Cost.SubtotalAmount.value(),
		Total:         n.Cost.TotalAmount.value(),
		Currency:      n.Cost.TotalAmount.CurrencyCode,
		Lines:         make([]CartLine, 0, len(n.Lines.Nodes)),
	}
	for _, l := range n.Lines.Nodes {
		line := CartLine{
			ID:            l.ID,
			Quantity:      l.Quantity,
			MerchandiseID: l.Merchandise.ID,
			VariantTitle:  l.Merchandise.Title,
			ProductHandle: l.Merchandise.Product.Handle,
			ProductTitle:  l.Merchandise.Product.Title,
			Price:         l.Merchandise.Price.value(),
		}
		if l.Merchandise.Image != nil {
			line.ImageURL = l.Merchandise.Image.URL
		}
		c.Lines = append(c.Lines, line)
	}
	return c
}

type cartPayload struct {
	Cart       *cartNode   `json:"cart"`
	UserErrors []UserError `json:"userErrors"`
}

func (p cartPayload) result() (Cart, error) {
	if err := UserErrors(p.UserErrors).Err(); err != nil {
		return Cart{}, err
	}
	if p.Cart == nil {
		return Cart{}, apperr.NotFound("cart")
	}
	return p.Cart.toCart(), nil
}

// CreateCart creates a cart with lines. buyerToken, when set, ties the cart
// to a signed-in customer.
func (c *Client) CreateCart(ctx context.Context, lines []LineInput, buyerToken string) (Cart, error) {
	input := map[string]any{"lines": lineInputs(lines)}
	if buyerToken != "" {
		input["buyerIdentity"] = map[string]any{"customerAccessToken": buyerToken}
	}
	var data struct {
		CartCreate cartPayload `json:"cartCreate"`
	}
	if err := c.Do(ctx, "cartCreate", cartCreateMutation, map[string]any{"input": input}, &data); err != nil {
		return Cart{}, err
	}
	return data.CartCreate.result()
}

// Cart returns NOT_FOUND for unknown or expired carts.
func (c *Client) Cart(ctx context.Context, id string) (Cart, error) {
	var data struct {
		Cart *cartNode `json:"cart"`
	}
	if err := c.Do(ctx, "cart", cartQuery, map[string]any{"id": id}, &data); err != nil {
		return Cart{}, err
	}
	if data.Cart == nil {
		return Cart{}, apperr.NotFound("cart")
	}
	return data.Cart.toCart(), nil
}

func (c *Client) AddCartLines(ctx context.Context, cartID string, lines []LineInput) (Cart, error) {
	var data struct {
		Payload cartPayload `json:"cartLinesAdd"`
	}
	vars := map[string]any{"cartId": cartID, "lines": lineInputs(lines)}
	if err := c.Do(ctx, "cartLinesAdd", cartLinesAddMutation, vars, &data); err != nil {
		return Cart{}, err
	}
	return data.Payload.result()
}

func (c *Client) UpdateCartLines(ctx context.Context, cartID string, lines []LineUpdate) (Cart, error) {
	updates := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		updates = append(updates, map[string]any{"id": l.ID, "quantity": l.Quantity})
	}
	var data struct {
		Payload cartPayload `json:"cartLinesUpdate"`
	}
	vars := map[string]any{"cartId": cartID, "lines": updates}
	if err := c.Do(ctx, "cartLinesUpdate", cartLinesUpdateMutation, vars, &data); err != nil {
		return Cart{}, err
	}
	return data.Payload.result()
}

func (c *Client) RemoveCartLines(ctx context.Context, cartID string, lineIDs []string) (Cart, error) {
	var data struct {
		Payload cartPayload `json:"cartLinesRemove"`
	}
	vars := map[string]any{"cartId": cartID, "lineIds": lineIDs}
	if err := c.Do(ctx, "cartLinesRemove", cartLinesRemoveMutation, vars, &data); err != nil {
		return Cart{}, err
	}
	return data.Payload.result()
}

func lineInputs(lines []LineInput) []map[string]any {
	out := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]any{
			"merchandiseId": strings.TrimSpace(l.MerchandiseID),
			"quantity":      l.Quantity,
		})
	}
	return out
}
