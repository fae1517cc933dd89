package shopify

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
)

// Storefront caps "first" at 250; pages are fetched 100 at a time.
const (
	maxPageSize     = 250
	defaultPageSize = 100
)

type money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

func (m money) value() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(m.Amount), 64)
	if err != nil || f != f || f < 0 {
		return 0
	}
	return f
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type image struct {
	URL string `json:"url"`
}

type productNode struct {
	ID               string           `json:"id"`
	Handle           string           `json:"handle"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	ProductType      string           `json:"productType"`
	Vendor           string           `json:"vendor"`
	Tags             []string         `json:"tags"`
	CreatedAt        string           `json:"createdAt"`
	AvailableForSale bool             `json:"availableForSale"`
	Options          []catalog.Option `json:"options"`
	PriceRange       struct {
		MinVariantPrice money `json:"minVariantPrice"`
	} `json:"priceRange"`
	CompareAtPriceRange struct {
		MinVariantPrice money `json:"minVariantPrice"`
	} `json:"compareAtPriceRange"`
	FeaturedImage *image `json:"featuredImage"`
	Variants      struct {
		Nodes []struct {
			ID               string `json:"id"`
			Title            string `json:"title"`
			AvailableForSale bool   `json:"availableForSale"`
			Price            money  `json:"price"`
		} `json:"nodes"`
	} `json:"variants"`
}

func (n productNode) toProduct() catalog.Product {
	p := catalog.Product{
		ID:             n.ID,
		Handle:         n.Handle,
		Title:          n.Title,
		Description:    n.Description,
		ProductType:    n.ProductType,
		Vendor:         n.Vendor,
		Tags:           n.Tags,
		Options:        n.Options,
		Price:          n.PriceRange.MinVariantPrice.value(),
		CompareAtPrice: n.CompareAtPriceRange.MinVariantPrice.value(),
		Currency:       n.PriceRange.MinVariantPrice.CurrencyCode,
		Available:      n.AvailableForSale,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if t, err := time.Parse(time.RFC3339, n.CreatedAt); err == nil {
		p.CreatedAt = t.UTC()
	}
	if n.FeaturedImage != nil {
		p.ImageURL = n.FeaturedImage.URL
	}
	for _, v := range n.Variants.Nodes {
		p.Variants = append(p.Variants, catalog.Variant{
			ID:        v.ID,
			Title:     v.Title,
			Price:     v.Price.value(),
			Available: v.AvailableForSale,
		})
	}
	return p
}

func toProducts(nodes []productNode) []catalog.Product {
	out := make([]catalog.Product, 0, len(nodes))
	for _, n := range nodes {
		if n.Handle == "" {
			continue
		}
		out = append(out, n.toProduct())
	}
	return out
}

// ProductPage is one page of a products connection.
type ProductPage struct {
	Products    []catalog.Product
	HasNextPage bool
	EndCursor   string
}

// Collection is a storefront collection.
type Collection struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type collectionNode struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       *image `json:"image"`
}

func (n collectionNode) toCollection() Collection {
	c := Collection{ID: n.ID, Handle: n.Handle, Title: n.Title, Description: n.Description}
	if n.Image != nil {
		c.ImageURL = n.Image.URL
	}
	return c
}

// Products fetches one page. query uses Shopify's search syntax
// ("tag:dog", "product_type:Toys"); empty means all products.
func (c *Client) Products(ctx context.Context, first int, after, query string) (ProductPage, error) {
	vars := map[string]any{"first": clampFirst(first)}
	if after != "" {
		vars["after"] = after
	}
	if query != "" {
		vars["query"] = query
	}
	var data struct {
		Products struct {
			PageInfo pageInfo      `json:"pageInfo"`
			Nodes    []productNode `json:"nodes"`
		} `json:"products"`
	}
	if err := c.Do(ctx, "products", productsQuery, vars, &data); err != nil {
		return ProductPage{}, err
	}
	return ProductPage{
		Products:    toProducts(data.Products.Nodes),
		HasNextPage: data.Products.PageInfo.HasNextPage,
		EndCursor:   data.Products.PageInfo.EndCursor,
	}, nil
}

// SearchProducts walks pages until limit products are collected or the
// connection ends.
func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		return []catalog.Product{}, nil
	}
	out := make([]catalog.Product, 0, limit)
	after := ""
	for len(out) < limit {
		page, err := c.Products(ctx, min(defaultPageSize, limit-len(out)), after, query)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Products...)
		if !page.HasNextPage || page.EndCursor == "" {
			break
		}
		after = page.EndCursor
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ProductByHandle returns NOT_FOUND when the shop has no such product.
func (c *Client) ProductByHandle(ctx context.Context, handle string) (catalog.Product, error) {
	var data struct {
		Product *productNode `json:"product"`
	}
	if err := c.Do(ctx, "product", productByHandleQuery, map[string]any{"handle": handle}, &data); err != nil {
		return catalog.Product{}, err
	}
	if data.Product == nil || data.Product.Handle == "" {
		return catalog.Product{}, apperr.NotFound("product")
	}
	return data.Product.toProduct(), nil
}

func (c *Client) Collections(ctx context.Context, first int) ([]Collection, error) {
	var data struct {
		Collections struct {
			Nodes []collectionNode `json:"nodes"`
		} `json:"collections"`
	}
	if err := c.Do(ctx, "collections", collectionsQuery, map[string]any{"first": clampFirst(first)}, &data); err != nil {
		return nil, err
	}
	out := make([]Collection, 0, len(data.Collections.Nodes))
	for _, n := range data.Collections.Nodes {
		out = append(out, n.toCollection())
	}
	return out, nil
}

// CollectionProducts returns the collection and up to limit of its
// products. Unknown collections are NOT_FOUND.
func (c *Client) CollectionProducts(ctx context.Context, handle string, limit int) (Collection, []catalog.Product, error) {
	var coll Collection
	out := make([]catalog.Product, 0, max(limit, 0))
	after := ""
	for {
		vars := map[string]any{"handle": handle, "first": min(defaultPageSize, max(limit-len(out), 1))}
		if after != "" {
			vars["after"] = after
		}
		var data struct {
			Collection *struct {
				collectionNode
				Products struct {
					PageInfo pageInfo      `json:"pageInfo"`
					Nodes    []productNode `json:"nodes"`
				} `json:"products"`
			} `json:"collection"`
		}
		if err := c.Do(ctx, "collection", collectionProductsQuery, vars, &data); err != nil {
			return Collection{}, nil, err
		}
		if data.Collection == nil {
			return Collection{}, nil, apperr.NotFound("collection")
		}
		coll = data.Collection.collectionNode.toCollection()
		out = append(out, toProducts(data.Collection.Products.Nodes)...)
		info := data.Collection.Products.PageInfo
		if len(out) >= limit || !info.HasNextPage || info.EndCursor == "" {
			break
		}
		after = info.EndCursor
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return coll, out, nil
}

func clampFirst(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}
