package http

import (
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/AzyAli/map3d/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to the scene service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lng": &graphql.Field{Type: graphql.Float},
		},
	})

	buildingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Building",
		Fields: graphql.Fields{
			"footprint_id": &graphql.Field{Type: graphql.String},
			"depth":        &graphql.Field{Type: graphql.Float},
			"vertices":     &graphql.Field{Type: graphql.Int},
			"name":         &graphql.Field{Type: graphql.String},
		},
	})

	sceneType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Scene",
		Fields: graphql.Fields{
			"session_id":       &graphql.Field{Type: graphql.String},
			"area_key":         &graphql.Field{Type: graphql.String},
			"reference":        &graphql.Field{Type: geoPointType},
			"buildings":        &graphql.Field{Type: graphql.Int},
			"roads":            &graphql.Field{Type: graphql.Int},
			"roads_loaded":     &graphql.Field{Type: graphql.Boolean},
			"nodes":            &graphql.Field{Type: graphql.Int},
			"exportable_nodes": &graphql.Field{Type: graphql.Int},
			"export_state":     &graphql.Field{Type: graphql.String},
			"last_export":      &graphql.Field{Type: graphql.String},
			"space_id":         &graphql.Field{Type: graphql.String},
			"building_list": &graphql.Field{
				Type:        graphql.NewList(buildingType),
				Description: "Extruded buildings in scene order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sum, ok := p.Source.(*usecases.SceneSummary)
					if !ok {
						return nil, nil
					}
					out := make([]map[string]interface{}, 0, len(sum.Meshes))
					for _, m := range sum.Meshes {
						out = append(out, map[string]interface{}{
							"footprint_id": m.FootprintID,
							"depth":        m.Profile.Depth,
							"vertices":     len(m.Polygon),
							"name":         m.Tags["name"],
						})
					}
					return out, nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"sessions": &graphql.Field{
				Type:        graphql.NewList(sceneType),
				Description: "All live scenes",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					ids := deps.Scenes.Sessions()
					sort.Strings(ids)
					out := make([]*usecases.SceneSummary, 0, len(ids))
					for _, id := range ids {
						sum, err := deps.Scenes.Scene(id)
						if err != nil {
							continue
						}
						out = append(out, sum)
					}
					return out, nil
				},
			},
			"scene": &graphql.Field{
				Type:        sceneType,
				Description: "The live scene of a session",
				Args: graphql.FieldConfigArgument{
					"session_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["session_id"].(string)
					sum, err := deps.Scenes.Scene(id)
					if errors.Is(err, usecases.ErrUnknownSession) {
						return nil, nil
					}
					return sum, err
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
