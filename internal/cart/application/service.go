package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/storefront/internal/cart/domain"
	catalog "github.com/dmehra2102/storefront/internal/catalog/domain"
	"github.com/dmehra2102/storefront/pkg/keylock"
)

type Service struct {
	log            *slog.Logger
	repo           CartRepository
	products       ProductReader
	locks          *keylock.Locker
	catalogTimeout time.Duration
}

// NewService wires the cart service. locks must be the same Locker the
// checkout uses so cart edits and checkout never interleave for one user.
func NewService(log *slog.Logger, repo CartRepository, products ProductReader, locks *keylock.Locker, catalogTimeout time.Duration) *Service {
	if catalogTimeout <= 0 {
		catalogTimeout = 3 * time.Second
	}
	return &Service{
		log:            log,
		repo:           repo,
		products:       products,
		locks:          locks,
		catalogTimeout: catalogTimeout,
	}
}

// ViewLine is a cart line priced against the current catalog.
type ViewLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available bool            `json:"available"`
}

type View struct {
	Items []ViewLine      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func (s *Service) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	return s.repo.Get(ctx, userID)
}

// View prices every line concurrently. Products that no longer exist are
// reported as unavailable and left out of the total.
func (s *Service) View(ctx context.Context, userID string) (View, error) {
	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return s.price(ctx, cart)
}

func (s *Service) price(ctx context.Context, cart domain.Cart) (View, error) {
	lines := make([]ViewLine, len(cart.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, it := range cart.Items {
		g.Go(func() error {
			lines[i] = ViewLine{ProductID: it.ProductID, Quantity: it.Quantity, Price: decimal.Zero, Subtotal: decimal.Zero}
			p, err := s.getProduct(gctx, it.ProductID)
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			lines[i].Name = p.Name
			lines[i].Price = p.Price
			lines[i].Image = p.Image
			lines[i].Subtotal = p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			lines[i].Available = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return View{}, err
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal)
	}
	return View{Items: lines, Total: total}, nil
}

func (s *Service) getProduct(ctx context.Context, productID string) (catalog.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.catalogTimeout)
	defer cancel()
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil && !errors.Is(err, catalog.ErrProductNotFound) && !errors.Is(err, catalog.ErrCatalogUnavailable) {
		err = catalog.Unavailable(err)
	}
	return p, err
}

// AddItem upserts a line after confirming the product exists.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	if quantity < 1 || quantity > domain.MaxQuantity {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	if _, err := s.getProduct(ctx, productID); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		return c.Add(productID, quantity)
	})
}

func (s *Service) UpdateItem(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		return c.SetQuantity(productID, quantity)
	})
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (domain.Cart, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) error {
		return c.Remove(productID)
	})
}

// Clear deletes the cart. Clearing a missing cart succeeds.
func (s *Service) Clear(ctx context.Context, userID string) error {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.repo.Delete(ctx, userID)
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(*domain.Cart) error) (domain.Cart, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	defer unlock()

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.UserID = userID
	if err := fn(&cart); err != nil {
		return domain.Cart{}, err
	}
	if cart.IsEmpty() {
		if err := s.repo.Delete(ctx, userID); err != nil {
			return domain.Cart{}, err
		}
		return cart, nil
	}
	if err := s.repo.Save(ctx, cart); err != nil {
		return domain.Cart{}, err
	}
	s.log.Debug("cart updated", "user_id", userID, "lines", len(cart.Items))
	return cart, nil
}
