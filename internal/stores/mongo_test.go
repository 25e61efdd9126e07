package stores

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestToBSONKeepsFieldOrder(t *testing.T) {
	doc := Document{{Key: "state", Value: "Washington"}, {Key: "coast", Value: "west"}}
	require.Equal(t, bson.D{{Key: "state", Value: "Washington"}, {Key: "coast", Value: "west"}}, toBSON(doc))
}

func TestFormatObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	require.Equal(t, oid.Hex(), formatObjectID(oid))
	require.Equal(t, "custom-id", formatObjectID("custom-id"))
	require.Equal(t, "7", formatObjectID(int32(7)))
}
