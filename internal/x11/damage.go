package x11

import (
	xdamage "github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xproto"
)

// CreateDamage starts damage reporting on a drawable. Every change is
// reported as raw rectangles.
func (c *Connection) CreateDamage(d xproto.Drawable) (xdamage.Damage, error) {
	conn := c.Conn()
	id, err := xdamage.NewDamageId(conn)
	if err != nil {
		return 0, err
	}
	if err := xdamage.CreateChecked(conn, id, d, xdamage.ReportLevelRawRectangles).Check(); err != nil {
		return 0, err
	}
	return id, nil
}

// SubtractDamage clears everything the server accumulated for d.
func (c *Connection) SubtractDamage(d xdamage.Damage) error {
	return xdamage.SubtractChecked(c.Conn(), d, 0, 0).Check()
}

// DestroyDamage stops reporting for d.
func (c *Connection) DestroyDamage(d xdamage.Damage) error {
	return xdamage.DestroyChecked(c.Conn(), d).Check()
}
