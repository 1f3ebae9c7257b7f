package bazaargql

import "encoding/json"

// JSON is an arbitrary JSON value passed through a graphql schema.
type JSON struct {
	Data interface{}
}

func (JSON) ImplementsGraphQLType(name string) bool {
	return name == "JSON"
}

func (j *JSON) UnmarshalGraphQL(input interface{}) error {
	j.Data = input
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Data)
}
