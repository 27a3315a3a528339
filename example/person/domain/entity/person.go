package entity

import "fmt"

// Person は loadPersons ジョブが読み書きする人物のレコードです。
type Person struct {
	ID    int64  `json:"id" yaml:"id" badgerhold:"key"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// String は Person の文字列表現を返します。
func (p Person) String() string {
	return fmt.Sprintf("Person[id=%d, name=%s, email=%s]", p.ID, p.Name, p.Email)
}
