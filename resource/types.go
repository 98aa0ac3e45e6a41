package resource

import (
	"fmt"
)

// Product is a catalog entry. Price is in the smallest currency unit.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
}

func (p *Product) Kind() Kind            { return KindProduct }
func (p *Product) Identity() string      { return p.ID }
func (p *Product) SetIdentity(id string) { p.ID = id }

func (p *Product) Get(field string) (any, bool) {
	switch field {
	case IDField:
		return p.ID, true
	case "name":
		return p.Name, true
	case "category":
		return p.Category, true
	case "price":
		return p.Price, true
	}
	return nil, false
}

func (p *Product) Set(field string, value any) (err error) {
	switch field {
	case "name":
		p.Name, err = asString(field, value)
	case "category":
		p.Category, err = asString(field, value)
	case "price":
		p.Price, err = asInt(field, value)
	default:
		err = fmt.Errorf("unknown product field %q", field)
	}
	return err
}

// User is a registry entry.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int64  `json:"age"`
}

func (u *User) Kind() Kind            { return KindUser }
func (u *User) Identity() string      { return u.ID }
func (u *User) SetIdentity(id string) { u.ID = id }

func (u *User) Get(field string) (any, bool) {
	switch field {
	case IDField:
		return u.ID, true
	case "name":
		return u.Name, true
	case "email":
		return u.Email, true
	case "age":
		return u.Age, true
	}
	return nil, false
}

func (u *User) Set(field string, value any) (err error) {
	switch field {
	case "name":
		u.Name, err = asString(field, value)
	case "email":
		u.Email, err = asString(field, value)
	case "age":
		u.Age, err = asInt(field, value)
	default:
		err = fmt.Errorf("unknown user field %q", field)
	}
	return err
}

// IDArgs is the argument of GetById and Delete.
type IDArgs struct {
	ID string `json:"id"`
}

// ListArgs is the (empty) argument of List.
type ListArgs struct{}

// DeleteReply acknowledges a Delete.
type DeleteReply struct {
	Success bool `json:"success"`
}

// ProductList is the List reply of the product backend.
type ProductList struct {
	Items []Product `json:"items"`
}

// UserList is the List reply of the user backend.
type UserList struct {
	Items []User `json:"items"`
}
