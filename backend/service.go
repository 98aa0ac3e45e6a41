// Package backend implements the Product and User RPC services on top of a store.
//
// Each service exposes List, GetById, Create, Update and Delete with the argument shapes
// of the resource contract. Failures are classified: unknown ids are NotFound, semantically
// invalid values are InvalidArgument, anything the store reports otherwise is Internal.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"polygate/backend/store"
	"polygate/resource"
	"polygate/status"
)

// ProductService serves resource.Products.
type ProductService struct {
	store store.Store
}

func NewProductService(s store.Store) *ProductService {
	return &ProductService{store: s}
}

func (s *ProductService) List(ctx context.Context, args *resource.ListArgs, reply *resource.ProductList) error {
	records, err := s.store.List(ctx, resource.Products)
	if err != nil {
		return classify(resource.Products, "list", err)
	}
	reply.Items = make([]resource.Product, 0, len(records))
	for _, rec := range records {
		reply.Items = append(reply.Items, *rec.(*resource.Product))
	}
	return nil
}

func (s *ProductService) GetById(ctx context.Context, args *resource.IDArgs, reply *resource.Product) error {
	rec, err := s.store.Get(ctx, resource.Products, args.ID)
	if err != nil {
		return classify(resource.Products, "get", err)
	}
	*reply = *rec.(*resource.Product)
	return nil
}

func (s *ProductService) Create(ctx context.Context, args *resource.Product, reply *resource.Product) error {
	if err := validateProduct(args); err != nil {
		return err
	}
	args.ID = ""
	rec, err := s.store.Create(ctx, resource.Products, args)
	if err != nil {
		return classify(resource.Products, "create", err)
	}
	*reply = *rec.(*resource.Product)
	return nil
}

func (s *ProductService) Update(ctx context.Context, args *resource.Product, reply *resource.Product) error {
	if args.ID == "" {
		return status.New(status.InvalidArgument, "id is required")
	}
	if err := validateProduct(args); err != nil {
		return err
	}
	rec, err := s.store.Update(ctx, resource.Products, args)
	if err != nil {
		return classify(resource.Products, "update", err)
	}
	*reply = *rec.(*resource.Product)
	return nil
}

func (s *ProductService) Delete(ctx context.Context, args *resource.IDArgs, reply *resource.DeleteReply) error {
	if err := s.store.Delete(ctx, resource.Products, args.ID); err != nil {
		return classify(resource.Products, "delete", err)
	}
	reply.Success = true
	return nil
}

// UserService serves resource.Users.
type UserService struct {
	store store.Store
}

func NewUserService(s store.Store) *UserService {
	return &UserService{store: s}
}

func (s *UserService) List(ctx context.Context, args *resource.ListArgs, reply *resource.UserList) error {
	records, err := s.store.List(ctx, resource.Users)
	if err != nil {
		return classify(resource.Users, "list", err)
	}
	reply.Items = make([]resource.User, 0, len(records))
	for _, rec := range records {
		reply.Items = append(reply.Items, *rec.(*resource.User))
	}
	return nil
}

func (s *UserService) GetById(ctx context.Context, args *resource.IDArgs, reply *resource.User) error {
	rec, err := s.store.Get(ctx, resource.Users, args.ID)
	if err != nil {
		return classify(resource.Users, "get", err)
	}
	*reply = *rec.(*resource.User)
	return nil
}

func (s *UserService) Create(ctx context.Context, args *resource.User, reply *resource.User) error {
	if err := validateUser(args); err != nil {
		return err
	}
	args.ID = ""
	rec, err := s.store.Create(ctx, resource.Users, args)
	if err != nil {
		return classify(resource.Users, "create", err)
	}
	*reply = *rec.(*resource.User)
	return nil
}

func (s *UserService) Update(ctx context.Context, args *resource.User, reply *resource.User) error {
	if args.ID == "" {
		return status.New(status.InvalidArgument, "id is required")
	}
	if err := validateUser(args); err != nil {
		return err
	}
	rec, err := s.store.Update(ctx, resource.Users, args)
	if err != nil {
		return classify(resource.Users, "update", err)
	}
	*reply = *rec.(*resource.User)
	return nil
}

func (s *UserService) Delete(ctx context.Context, args *resource.IDArgs, reply *resource.DeleteReply) error {
	if err := s.store.Delete(ctx, resource.Users, args.ID); err != nil {
		return classify(resource.Users, "delete", err)
	}
	reply.Success = true
	return nil
}

func validateProduct(p *resource.Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return status.New(status.InvalidArgument, "name must not be empty")
	}
	if p.Price < 0 {
		return status.Newf(status.InvalidArgument, "price must not be negative, got %d", p.Price)
	}
	return nil
}

func validateUser(u *resource.User) error {
	if strings.TrimSpace(u.Name) == "" {
		return status.New(status.InvalidArgument, "name must not be empty")
	}
	if strings.TrimSpace(u.Email) == "" {
		return status.New(status.InvalidArgument, "email must not be empty")
	}
	if u.Age < 0 {
		return status.Newf(status.InvalidArgument, "age must not be negative, got %d", u.Age)
	}
	return nil
}

// classify maps a store error to the failure taxonomy. Store internals stay in the log;
// the caller only sees a generic detail for Internal failures.
func classify(d resource.Descriptor, action string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return status.Newf(status.NotFound, "%s not found", d.TypeName)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.Convert(err)
	}
	log.Error().Err(err).Str("resource", string(d.Kind)).Str("action", action).Msg("store failure")
	return status.Newf(status.Internal, "failed to %s %s", action, d.Singular)
}

// ForKind returns the RPC service serving kind, ready to register with a server.
func ForKind(kind resource.Kind, s store.Store) (any, error) {
	switch kind {
	case resource.KindProduct:
		return NewProductService(s), nil
	case resource.KindUser:
		return NewUserService(s), nil
	}
	return nil, fmt.Errorf("backend: unknown resource kind %q", kind)
}
